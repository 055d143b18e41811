package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/opt-outta/engine/internal/errs"
)

const (
	maxWaitMs        = 30_000
	waitForPollMs    = 500
	navigateSettleMs = 2000
)

// NavigatePage loads url in the driver's tab and waits for it to settle. Any URL
// whose scheme is not http/https is rejected before anything is loaded.
func (d *Driver) NavigatePage(url string) error {
	lower := strings.ToLower(strings.TrimSpace(url))
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return errs.New(errs.KindValidation, "browser: refusing to navigate to non-http(s) URL")
	}
	humanDelay(d.ctx)
	err := chromedp.Run(d.ctx,
		chromedp.Navigate(url),
		chromedp.Sleep(navigateSettleMs*time.Millisecond),
	)
	if err != nil {
		return errs.Wrap(errs.KindDriver, "browser: navigate", err)
	}
	return nil
}

// Fill focuses the element, sets its value, and fires input/change events.
func (d *Driver) Fill(selector, value string) error {
	humanDelay(d.ctx)
	script := fmt.Sprintf(`(function(){
		var el = document.querySelector(%s);
		if (!el) throw new Error("element not found");
		el.focus();
		el.value = %s;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
	})()`, jsString(selector), jsString(value))
	return d.eval(script, "fill")
}

// Select sets the element's value and fires a change event.
func (d *Driver) Select(selector, value string) error {
	humanDelay(d.ctx)
	script := fmt.Sprintf(`(function(){
		var el = document.querySelector(%s);
		if (!el) throw new Error("element not found");
		el.value = %s;
		el.dispatchEvent(new Event('change', {bubbles: true}));
	})()`, jsString(selector), jsString(value))
	return d.eval(script, "select")
}

// Check sets the element's checked state and fires a change event.
func (d *Driver) Check(selector string, checked bool) error {
	humanDelay(d.ctx)
	script := fmt.Sprintf(`(function(){
		var el = document.querySelector(%s);
		if (!el) throw new Error("element not found");
		el.checked = %t;
		el.dispatchEvent(new Event('change', {bubbles: true}));
	})()`, jsString(selector), checked)
	return d.eval(script, "check")
}

// Click invokes .click() on the element.
func (d *Driver) Click(selector string) error {
	humanDelay(d.ctx)
	script := fmt.Sprintf(`(function(){
		var el = document.querySelector(%s);
		if (!el) throw new Error("element not found");
		el.click();
	})()`, jsString(selector))
	return d.eval(script, "click")
}

// Wait sleeps ms, capped at maxWaitMs.
func (d *Driver) Wait(ms int) error {
	if ms > maxWaitMs {
		ms = maxWaitMs
	}
	humanDelay(d.ctx)
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
	case <-d.ctx.Done():
	}
	return nil
}

// WaitFor polls for selector's presence every 500ms until it appears or
// timeoutMs elapses (default 10s, capped at 30s).
func (d *Driver) WaitFor(selector string, timeoutMs int) error {
	if timeoutMs <= 0 {
		timeoutMs = 10_000
	}
	if timeoutMs > maxWaitMs {
		timeoutMs = maxWaitMs
	}
	humanDelay(d.ctx)

	script := fmt.Sprintf(`new Promise(function(resolve, reject){
		var sel = %s;
		var timeoutMs = %d;
		var start = Date.now();
		var poll = function(){
			if (document.querySelector(sel)) { resolve(true); return; }
			if (Date.now() - start >= timeoutMs) { reject(new Error("timed out waiting for " + sel)); return; }
			setTimeout(poll, %d);
		};
		poll();
	})`, jsString(selector), timeoutMs, waitForPollMs)

	ctx, cancel := context.WithTimeout(d.ctx, time.Duration(timeoutMs+waitForPollMs)*time.Millisecond)
	defer cancel()
	var ok bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return errs.Wrap(errs.KindTimeout, "browser: wait_for "+selector, err)
	}
	return nil
}

// ScrollTo smooth-scrolls the element into the viewport's center.
func (d *Driver) ScrollTo(selector string) error {
	humanDelay(d.ctx)
	script := fmt.Sprintf(`(function(){
		var el = document.querySelector(%s);
		if (!el) throw new Error("element not found");
		el.scrollIntoView({behavior: "smooth", block: "center"});
	})()`, jsString(selector))
	return d.eval(script, "scroll_to")
}

// FindAndClick selects every element matching selector, finds the first
// whose lowercased textContent contains value (lowercased), and clicks it.
func (d *Driver) FindAndClick(selector, value string) error {
	humanDelay(d.ctx)
	script := fmt.Sprintf(`(function(){
		var els = document.querySelectorAll(%s);
		var needle = %s.toLowerCase();
		for (var i = 0; i < els.length; i++) {
			var text = (els[i].textContent || "").toLowerCase();
			if (text.indexOf(needle) !== -1) { els[i].click(); return; }
		}
		throw new Error("no element matched " + needle);
	})()`, jsString(selector), jsString(value))
	return d.eval(script, "find_and_click")
}

// Highlight decorates an element with a pulsing outline before a
// manual-fill human prompt.
func (d *Driver) Highlight(selector string) error {
	script := fmt.Sprintf(`(function(){
		var el = document.querySelector(%s);
		if (!el) return;
		el.dataset.optouttaOriginalOutline = el.style.outline;
		el.dataset.optouttaPulse = setInterval(function(){
			el.style.outline = el.style.outline ? "" : "3px solid #ff4081";
		}, 600);
	})()`, jsString(selector))
	return d.eval(script, "highlight")
}

// RemoveHighlight undoes Highlight after the human acknowledges the prompt.
func (d *Driver) RemoveHighlight(selector string) error {
	script := fmt.Sprintf(`(function(){
		var el = document.querySelector(%s);
		if (!el) return;
		clearInterval(el.dataset.optouttaPulse);
		el.style.outline = el.dataset.optouttaOriginalOutline || "";
	})()`, jsString(selector))
	return d.eval(script, "remove_highlight")
}

func (d *Driver) eval(script, action string) error {
	var result any
	if err := chromedp.Run(d.ctx, chromedp.Evaluate(script, &result)); err != nil {
		return errs.Wrap(errs.KindDriver, "browser: "+action, err)
	}
	return nil
}

// jsString renders a Go string as a safely-quoted JS string literal,
// preventing a selector or value from breaking out of the template.
func jsString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
