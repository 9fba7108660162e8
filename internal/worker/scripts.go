package worker

// Page scripts injected through CDP evaluate calls. Each script is a single
// JS function literal; the engine appends a parenthesized JSON argument to
// form the call expression, which keeps Go formatting out of the JS.

// hittablesCollector walks the DOM and returns the clickable-element
// snapshot: role-prefixed ordinal ids, collapsed accessible names capped at
// 400 chars, integer CSS-pixel geometry, occlusion state from
// elementFromPoint, and a short stable selector. html/head/body and
// viewport-spanning generic blocks are excluded.
const hittablesCollector = `(function(opts) {
  opts = opts || {};
  var max = Math.min(opts.max > 0 ? opts.max : 1000, 5000);
  var minSize = opts.minSize > 0 ? opts.minSize : 8;
  var vw = window.innerWidth;
  var vh = window.innerHeight;

  var interactiveTags = { A: 1, BUTTON: 1, INPUT: 1, SELECT: 1, TEXTAREA: 1, SUMMARY: 1, LABEL: 1, OPTION: 1 };
  var genericTags = { DIV: 1, SECTION: 1, MAIN: 1, ARTICLE: 1, HEADER: 1, FOOTER: 1, NAV: 1, ASIDE: 1, SPAN: 1 };

  function collapse(text) {
    if (!text) return '';
    var out = String(text).replace(/\s+/g, ' ').trim();
    return out.length > 400 ? out.slice(0, 400) : out;
  }

  function accessibleName(el) {
    return collapse(
      el.getAttribute('aria-label') ||
      (el.labels && el.labels[0] && el.labels[0].innerText) ||
      el.innerText ||
      el.value ||
      el.getAttribute('placeholder') ||
      el.getAttribute('title') ||
      el.getAttribute('alt') ||
      ''
    );
  }

  function roleOf(el) {
    var explicit = el.getAttribute('role');
    if (explicit) return explicit.toLowerCase();
    var tag = el.tagName;
    if (tag === 'A') return el.hasAttribute('href') ? 'link' : 'generic';
    if (tag === 'BUTTON' || tag === 'SUMMARY') return 'button';
    if (tag === 'SELECT') return 'combobox';
    if (tag === 'TEXTAREA') return 'textbox';
    if (tag === 'IMG') return 'image';
    if (tag === 'OPTION') return 'option';
    if (tag === 'INPUT') {
      var type = (el.getAttribute('type') || 'text').toLowerCase();
      if (type === 'submit' || type === 'button' || type === 'reset' || type === 'image') return 'button';
      if (type === 'checkbox') return 'checkbox';
      if (type === 'radio') return 'radio';
      if (type === 'range') return 'slider';
      return 'textbox';
    }
    return 'generic';
  }

  function isCandidate(el, style) {
    if (interactiveTags[el.tagName]) return true;
    if (el.hasAttribute('role')) return true;
    if (el.hasAttribute('onclick') || el.onclick) return true;
    if (el.hasAttribute('contenteditable') && el.getAttribute('contenteditable') !== 'false') return true;
    var tabindex = el.getAttribute('tabindex');
    if (tabindex !== null && parseInt(tabindex, 10) >= 0) return true;
    return style.cursor === 'pointer';
  }

  function cssEscape(value) {
    return window.CSS && CSS.escape ? CSS.escape(value) : String(value).replace(/([^a-zA-Z0-9_-])/g, '\\$1');
  }

  function selectorFor(el) {
    if (el.id) return '#' + cssEscape(el.id);
    var testid = el.getAttribute('data-testid');
    if (testid) return '[data-testid="' + testid.replace(/"/g, '\\"') + '"]';
    var label = el.getAttribute('aria-label');
    if (label) return '[aria-label="' + label.replace(/"/g, '\\"') + '"]';
    var parts = [];
    var node = el;
    while (node && node.nodeType === 1 && parts.length < 4 && node.tagName !== 'BODY' && node.tagName !== 'HTML') {
      var tag = node.tagName.toLowerCase();
      var index = 1;
      var sibling = node.previousElementSibling;
      while (sibling) {
        if (sibling.tagName === node.tagName) index++;
        sibling = sibling.previousElementSibling;
      }
      parts.unshift(tag + ':nth-of-type(' + index + ')');
      if (node.id) {
        parts[0] = '#' + cssEscape(node.id);
        break;
      }
      node = node.parentElement;
    }
    return parts.join(' > ');
  }

  function hitState(el, cx, cy) {
    if (cx < 0 || cy < 0 || cx >= vw || cy >= vh) return 'offscreen_page';
    var hit = document.elementFromPoint(cx, cy);
    if (!hit) return 'occluded';
    if (hit === el || el.contains(hit) || hit.contains(el)) return 'hittable';
    return 'occluded';
  }

  var results = [];
  var counters = {};
  var all = document.querySelectorAll('*');
  for (var i = 0; i < all.length && results.length < max; i++) {
    var el = all[i];
    var tag = el.tagName;
    if (tag === 'HTML' || tag === 'HEAD' || tag === 'BODY' || tag === 'SCRIPT' || tag === 'STYLE' || tag === 'NOSCRIPT') continue;

    var style = window.getComputedStyle(el);
    if (style.display === 'none' || style.visibility === 'hidden' || parseFloat(style.opacity) === 0) continue;
    if (!isCandidate(el, style)) continue;

    var rect = el.getBoundingClientRect();
    if (rect.width < minSize || rect.height < minSize) continue;
    if (rect.bottom <= 0 || rect.right <= 0 || rect.top >= vh || rect.left >= vw) continue;

    var role = roleOf(el);
    if (role === 'generic' && genericTags[tag] && rect.width >= vw * 0.98 && rect.height >= vh * 0.98) continue;

    var cx = Math.round(rect.left + rect.width / 2);
    var cy = Math.round(rect.top + rect.height / 2);

    counters[role] = (counters[role] || 0) + 1;
    var item = {
      id: role + '-' + counters[role],
      name: accessibleName(el),
      role: role,
      enabled: !el.disabled && el.getAttribute('aria-disabled') !== 'true',
      hit_state: hitState(el, cx, cy),
      center: [cx, cy],
      rect: [Math.round(rect.left), Math.round(rect.top), Math.round(rect.width), Math.round(rect.height)],
      selector: selectorFor(el)
    };
    if (el.tagName === 'A' && el.href) item.href = el.href;
    if (el.className && typeof el.className === 'string') item.className = el.className;
    results.push(item);
  }
  return results;
})`

// universalScroll moves the page scrolling element first, then every nested
// scroll container that intersects the viewport and is taller than 60px.
// A non-positive amount derives the delta from the viewport height.
const universalScroll = `(function(opts) {
  opts = opts || {};
  var sign = opts.direction === 'up' ? -1 : 1;
  var amount = opts.amount > 0 ? opts.amount : Math.max(200, Math.round(0.8 * window.innerHeight));
  var delta = sign * amount;
  var vh = window.innerHeight;
  var vw = window.innerWidth;

  var scroller = document.scrollingElement || document.documentElement;
  scroller.scrollBy(0, delta);
  var moved = 1;

  var all = document.querySelectorAll('*');
  for (var i = 0; i < all.length; i++) {
    var el = all[i];
    if (el === scroller || el === document.body || el === document.documentElement) continue;
    if (el.scrollHeight <= el.clientHeight + 1) continue;
    var style = window.getComputedStyle(el);
    if (style.overflowY !== 'auto' && style.overflowY !== 'scroll') continue;
    var rect = el.getBoundingClientRect();
    if (rect.height <= 60) continue;
    if (rect.bottom <= 0 || rect.right <= 0 || rect.top >= vh || rect.left >= vw) continue;
    el.scrollBy(0, delta);
    moved++;
  }
  return moved;
})`

// clearActiveInput empties the focused form control or contenteditable and
// fires input/change so framework state stays in sync.
const clearActiveInput = `(function() {
  var el = document.activeElement;
  if (!el || el === document.body) return false;
  if (el.isContentEditable) {
    el.textContent = '';
  } else if ('value' in el) {
    el.value = '';
  } else {
    return false;
  }
  el.dispatchEvent(new Event('input', { bubbles: true }));
  el.dispatchEvent(new Event('change', { bubbles: true }));
  return true;
})`

// readViewport reports the CSS viewport and device pixel ratio.
const readViewport = `({
  width: window.innerWidth,
  height: window.innerHeight,
  devicePixelRatio: window.devicePixelRatio || 1
})`

// awaitAnimationFrame resolves after one rAF tick.
const awaitAnimationFrame = `new Promise(function(resolve) {
  requestAnimationFrame(function() { resolve(true); });
})`
