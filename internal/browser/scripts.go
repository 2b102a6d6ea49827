package browser

import (
	json "github.com/json-iterator/go"
)

// observeScript collects the page summary and up to limit visible candidate
// elements, each with a best-effort unique CSS selector.
const observeScript = `
(function(limit) {
  function cssEscape(s) {
    return (window.CSS && CSS.escape) ? CSS.escape(s) : String(s).replace(/[^a-zA-Z0-9_-]/g, "\\$&");
  }
  function selectorFor(el) {
    if (el.id) return "#" + cssEscape(el.id);
    const name = el.getAttribute("name");
    if (name) return el.tagName.toLowerCase() + "[name=\"" + name.replace(/"/g, "\\\"") + "\"]";
    const parts = [];
    let node = el;
    while (node && node.nodeType === 1 && node !== document.documentElement) {
      let part = node.tagName.toLowerCase();
      if (node.id) { parts.unshift("#" + cssEscape(node.id)); break; }
      const parent = node.parentElement;
      if (parent) {
        const same = Array.prototype.filter.call(parent.children, function(c) { return c.tagName === node.tagName; });
        if (same.length > 1) part += ":nth-of-type(" + (same.indexOf(node) + 1) + ")";
      }
      parts.unshift(part);
      node = parent;
    }
    return parts.join(" > ");
  }
  function visible(el, rect) {
    const style = window.getComputedStyle(el);
    return rect.width > 0 && rect.height > 0 && style.display !== "none" &&
      style.visibility !== "hidden" && style.opacity !== "0";
  }
  const interactive = "a,button,input,select,textarea,[role=button],[role=link],[onclick],[contenteditable=true]";
  const candidates = document.querySelectorAll(interactive + ",h1,h2,h3,h4,h5,h6,label,[aria-label]");
  const out = [];
  for (let i = 0; i < candidates.length && out.length < limit; i++) {
    const el = candidates[i];
    const rect = el.getBoundingClientRect();
    if (!visible(el, rect)) continue;
    const attrs = {};
    for (const a of ["href", "type", "name", "value", "placeholder", "aria-label", "role", "title"]) {
      const v = el.getAttribute(a);
      if (v !== null && v !== "") attrs[a] = v.slice(0, 200);
    }
    out.push({
      selector: selectorFor(el),
      tag: el.tagName.toLowerCase(),
      text: (el.innerText || el.value || "").trim().replace(/\s+/g, " ").slice(0, 200),
      attributes: attrs,
      visible: true,
      interactable: el.matches(interactive) && !el.disabled,
      box: { x: rect.x, y: rect.y, width: rect.width, height: rect.height }
    });
  }
  return {
    url: location.href,
    title: document.title,
    readyState: document.readyState,
    elements: out
  };
})(%d)`

// clickByTextScript clicks the first visible interactive element whose text
// contains the argument, case-insensitively. It returns the chosen selector or "".
const clickByTextScript = `
(function(needle) {
  needle = needle.toLowerCase();
  const nodes = document.querySelectorAll("a,button,input[type=submit],input[type=button],[role=button],[role=link],label,[onclick]");
  for (const el of nodes) {
    const text = (el.innerText || el.value || el.getAttribute("aria-label") || "").trim().toLowerCase();
    const rect = el.getBoundingClientRect();
    if (text && text.indexOf(needle) >= 0 && rect.width > 0 && rect.height > 0) {
      el.scrollIntoView({block: "center"});
      el.click();
      return el.tagName.toLowerCase() + (el.id ? "#" + el.id : "");
    }
  }
  return "";
})(%s)`

// extractScript returns the text, or the named attribute, of every match.
const extractScript = `
(function(sel, attr) {
  return Array.prototype.map.call(document.querySelectorAll(sel), function(el) {
    if (attr) return el.getAttribute(attr) || "";
    return (el.innerText || el.textContent || "").trim();
  });
})(%s, %s)`

// selectScript sets a <select> value and fires the events frameworks listen to.
const selectScript = `
(function(sel, value) {
  const el = document.querySelector(sel);
  if (!el) return "no element found for selector";
  const option = Array.prototype.find.call(el.options || [], function(o) { return o.value === value || o.text.trim() === value; });
  if (!option) return "no option matching value";
  el.value = option.value;
  el.dispatchEvent(new Event("input", {bubbles: true}));
  el.dispatchEvent(new Event("change", {bubbles: true}));
  return "";
})(%s, %s)`

// jsonEncode renders a Go value as a JS literal.
func jsonEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
