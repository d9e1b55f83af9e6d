package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsCaptcha(t *testing.T) {
	t.Parallel()

	d := New(0)
	require.True(t, d.IsCaptcha([]byte(`<div class="g-recaptcha" data-sitekey="x"></div>`)))
	require.True(t, d.IsCaptcha([]byte(`<script src="https://geo.captcha-delivery.com/x.js"></script>`)))
	require.True(t, d.IsCaptcha([]byte(`<div class="CF-Turnstile"></div>`)))
	require.False(t, d.IsCaptcha([]byte(`<html><body><h1>Blue Fin Sushi</h1></body></html>`)))
}

func TestIsBlocked(t *testing.T) {
	t.Parallel()

	d := New(0)
	require.True(t, d.IsBlocked(403, nil))
	require.True(t, d.IsBlocked(200, []byte(`<h1>Access Denied</h1>`)))
	require.True(t, d.IsBlocked(503, []byte(`DDoS protection by SomeVendor`)))
	require.False(t, d.IsBlocked(200, []byte(`<h1>Directory of plumbers</h1>`)))
	require.False(t, d.IsBlocked(500, []byte(`internal error`)))
}

func TestShouldRender(t *testing.T) {
	t.Parallel()

	d := New(0)

	require.False(t, d.ShouldRender(404, nil))
	require.True(t, d.ShouldRender(200, nil), "empty 200 body needs a browser")

	spa := []byte(`<html><body><div id="root"></div><script src="/bundle.js"></script></body></html>`)
	require.True(t, d.ShouldRender(200, spa))

	scriptShell := []byte(`<html><head><script>` + strings.Repeat("window.x=1;", 40) + `</script></head><body>hi</body></html>`)
	require.True(t, d.ShouldRender(200, scriptShell))

	static := []byte(`<html><body>` + strings.Repeat(`<p>Blue Fin Sushi, 415-555-0134</p>`, 100) + `</body></html>`)
	require.False(t, d.ShouldRender(200, static))
}

func TestScriptDensityHigh(t *testing.T) {
	t.Parallel()

	require.False(t, scriptDensityHigh(nil))
	require.False(t, scriptDensityHigh([]byte(`<html><body>plain text only</body></html>`)))

	mostlyScript := []byte(`<script>` + strings.Repeat("a", 300) + `</script><p>x</p>`)
	require.True(t, scriptDensityHigh(mostlyScript))

	unclosed := []byte(`<p>intro</p><script>var x = 1;`)
	require.True(t, scriptDensityHigh(unclosed))
}
