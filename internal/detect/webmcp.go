package detect

// WebMCP support. Chrome 146+ exposes navigator.modelContext so pages can
// register tools for agents. The init script below is evaluated on every
// new document before page scripts run; it wraps the registration API to
// mirror tools into window.__webmcp, scans declarative form tools, and
// exposes an execute helper.

// WebMCPInitScript intercepts tool registrations and scans declarative
// forms carrying a toolname attribute.
const WebMCPInitScript = `
(() => {
    window.__webmcp = { tools: {}, available: false, declarative: {} };

    if (typeof navigator.modelContext === 'undefined') return;

    window.__webmcp.available = true;

    const origRegister = navigator.modelContext.registerTool.bind(navigator.modelContext);
    navigator.modelContext.registerTool = function(tool) {
        window.__webmcp.tools[tool.name] = {
            name: tool.name,
            description: tool.description || '',
            inputSchema: tool.inputSchema || {},
            annotations: tool.annotations || {},
            _hasExecute: typeof tool.execute === 'function',
            _ref: tool,
        };
        return origRegister(tool);
    };

    const origProvide = navigator.modelContext.provideContext.bind(navigator.modelContext);
    navigator.modelContext.provideContext = function(options) {
        // provideContext replaces the entire tool set
        window.__webmcp.tools = {};
        for (const tool of (options?.tools || [])) {
            window.__webmcp.tools[tool.name] = {
                name: tool.name,
                description: tool.description || '',
                inputSchema: tool.inputSchema || {},
                annotations: tool.annotations || {},
                _hasExecute: typeof tool.execute === 'function',
                _ref: tool,
            };
        }
        return origProvide(options);
    };

    const origUnregister = navigator.modelContext.unregisterTool.bind(navigator.modelContext);
    navigator.modelContext.unregisterTool = function(name) {
        delete window.__webmcp.tools[name];
        return origUnregister(name);
    };

    const origClear = navigator.modelContext.clearContext.bind(navigator.modelContext);
    navigator.modelContext.clearContext = function() {
        window.__webmcp.tools = {};
        return origClear();
    };

    const scanDeclarativeForms = () => {
        window.__webmcp.declarative = {};
        document.querySelectorAll('form[toolname]').forEach(form => {
            const name = form.getAttribute('toolname');
            const desc = form.getAttribute('tooldescription') || '';
            const autoSubmit = form.hasAttribute('toolautosubmit');
            const schema = { type: 'object', properties: {}, required: [] };

            form.querySelectorAll('input, select, textarea').forEach(el => {
                if (el.type === 'submit' || el.type === 'hidden') return;
                const paramName = el.getAttribute('toolparamtitle') || el.name;
                if (!paramName) return;

                const paramDesc = el.getAttribute('toolparamdescription')
                    || el.labels?.[0]?.textContent?.trim()
                    || el.getAttribute('aria-description') || '';

                let prop = { description: paramDesc };

                if (el.tagName === 'SELECT') {
                    prop.type = 'string';
                    prop.enum = [];
                    prop.oneOf = [];
                    el.querySelectorAll('option').forEach(opt => {
                        if (opt.value) {
                            prop.enum.push(opt.value);
                            prop.oneOf.push({ const: opt.value, title: opt.textContent.trim() });
                        }
                    });
                } else if (el.type === 'checkbox') {
                    prop.type = 'boolean';
                } else if (el.type === 'number' || el.type === 'range') {
                    prop.type = 'number';
                } else if (el.type === 'radio') {
                    // Radio groups share a name
                    if (!schema.properties[paramName]) {
                        prop.type = 'string';
                        prop.enum = [];
                    } else {
                        prop = schema.properties[paramName];
                    }
                    if (el.value && !prop.enum.includes(el.value)) {
                        prop.enum.push(el.value);
                    }
                } else {
                    prop.type = 'string';
                }

                schema.properties[paramName] = prop;
                if (el.required && !schema.required.includes(paramName)) {
                    schema.required.push(paramName);
                }
            });

            window.__webmcp.declarative[name] = {
                name: name,
                description: desc,
                inputSchema: schema,
                autoSubmit: autoSubmit,
                _formSelector: form.id ? '#' + CSS.escape(form.id)
                    : 'form[toolname="' + CSS.escape(name) + '"]',
                _type: 'declarative',
            };
        });
    };

    if (document.readyState === 'loading') {
        document.addEventListener('DOMContentLoaded', scanDeclarativeForms);
    } else {
        scanDeclarativeForms();
    }

    window.__webmcp.rescanDeclarative = scanDeclarativeForms;

    window.__webmcp.executeTool = async (name, args) => {
        const imp = window.__webmcp.tools[name];
        if (imp && imp._ref && typeof imp._ref.execute === 'function') {
            return await imp._ref.execute(args);
        }
        const decl = window.__webmcp.declarative[name];
        if (decl) {
            const form = document.querySelector(decl._formSelector);
            if (!form) return { error: 'Form not found for declarative tool: ' + name };
            for (const [key, value] of Object.entries(args || {})) {
                const el = form.querySelector('[name="' + CSS.escape(key) + '"]')
                    || form.querySelector('[toolparamtitle="' + CSS.escape(key) + '"]');
                if (!el) continue;
                if (el.tagName === 'SELECT') {
                    el.value = value;
                    el.dispatchEvent(new Event('change', { bubbles: true }));
                } else if (el.type === 'checkbox') {
                    el.checked = !!value;
                    el.dispatchEvent(new Event('change', { bubbles: true }));
                } else if (el.type === 'radio') {
                    const radio = form.querySelector(
                        'input[name="' + CSS.escape(key) + '"][value="' + CSS.escape(String(value)) + '"]'
                    );
                    if (radio) { radio.checked = true; radio.dispatchEvent(new Event('change', { bubbles: true })); }
                } else {
                    // Native setter so React-style frameworks see the update
                    const nativeSetter = Object.getOwnPropertyDescriptor(
                        window.HTMLInputElement.prototype, 'value'
                    )?.set || Object.getOwnPropertyDescriptor(
                        window.HTMLTextAreaElement.prototype, 'value'
                    )?.set;
                    if (nativeSetter) nativeSetter.call(el, String(value));
                    else el.value = String(value);
                    el.dispatchEvent(new Event('input', { bubbles: true }));
                    el.dispatchEvent(new Event('change', { bubbles: true }));
                }
            }
            const submitBtn = form.querySelector('[type="submit"]') || form.querySelector('button:not([type])');
            if (submitBtn) submitBtn.click();
            else form.requestSubmit();
            return { content: [{ type: 'text', text: 'Form submitted for tool: ' + name }] };
        }
        return { error: 'Tool not found: ' + name };
    };
})();
`

// WebMCPDiscoverJS rescans declarative forms and returns the merged tool
// inventory for the current page.
const WebMCPDiscoverJS = `() => {
    if (!window.__webmcp) return { available: false, tools: {} };
    if (window.__webmcp.rescanDeclarative) window.__webmcp.rescanDeclarative();
    const tools = {};
    for (const [name, t] of Object.entries(window.__webmcp.tools)) {
        tools[name] = { name: t.name, description: t.description, inputSchema: t.inputSchema, type: 'imperative' };
    }
    for (const [name, t] of Object.entries(window.__webmcp.declarative)) {
        if (!tools[name]) {
            tools[name] = { name: t.name, description: t.description, inputSchema: t.inputSchema, type: 'declarative' };
        }
    }
    return { available: window.__webmcp.available || Object.keys(tools).length > 0, tools: tools };
}`

// WebMCPCallJS invokes a discovered tool by name with a JSON args object.
const WebMCPCallJS = `async (name, args) => {
    if (!window.__webmcp) return { error: 'WebMCP not initialized on this page' };
    return await window.__webmcp.executeTool(name, args);
}`
