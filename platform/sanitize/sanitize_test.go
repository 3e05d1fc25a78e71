package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "hello world", StripHTML("<b>hello</b> world"))
	assert.Equal(t, "alert(1)", StripHTML("&lt;script&gt;alert(1)&lt;/script&gt;"))
	assert.Equal(t, "Tom & Jerry", StripHTML("Tom &amp; Jerry"))
}

func TestText(t *testing.T) {
	assert.Equal(t, "Jane Doe", Text("  Jane \n <i>Doe</i> "))
}

func TestMessageText(t *testing.T) {
	cases := map[string]struct {
		in   string
		want string
	}{
		"plain":         {"What is the monthly payment?", "What is the monthly payment?"},
		"html email":    {"<p>Hi there,</p><p>Is it   still available?</p>", "Hi there,\nIs it still available?"},
		"breaks":        {"line one<br>line two<br/>line three", "line one\nline two\nline three"},
		"crlf":          {"a\r\nb", "a\nb"},
		"blank runs":    {"a\n\n\n\n\nb", "a\n\nb"},
		"only markup":   {"<div> </div>", ""},
		"entity in tag": {"STOP&nbsp;", "STOP"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, MessageText(tc.in))
		})
	}
}
