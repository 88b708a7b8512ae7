package inbox

import (
	"reflect"
	"testing"
)

func TestExtractColoredText(t *testing.T) {
	tests := []struct {
		name   string
		html   string
		use    []string
		remove []string
	}{
		{
			name:   "font and inline style",
			html:   `<div><font color="#0432FF">New Title Here</font> and <span style="color: rgb(255, 0, 0)">Old words</span></div>`,
			use:    []string{"New Title Here"},
			remove: []string{"Old words"},
		},
		{
			name: "background color is not a marker",
			html: `<span style="background-color:red">highlight</span><p style="margin:0">plain</p>`,
		},
		{
			name: "nested same color reported once",
			html: `<font color="blue">Brass <span style="color:blue">Koala</span> Bear</font>`,
			use:  []string{"Brass Koala Bear"},
		},
		{
			name:   "nested different color reported separately",
			html:   `<span style="color:#0000ff">keep <font color="red">drop</font></span>`,
			use:    []string{"keep drop"},
			remove: []string{"drop"},
		},
		{
			name: "empty",
			html: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ExtractColoredText(tt.html)
			if !reflect.DeepEqual(m.UseText, tt.use) {
				t.Errorf("use: got %q, want %q", m.UseText, tt.use)
			}
			if !reflect.DeepEqual(m.RemoveText, tt.remove) {
				t.Errorf("remove: got %q, want %q", m.RemoveText, tt.remove)
			}
		})
	}
}

func TestHTMLToTextKeepsLines(t *testing.T) {
	got := Normalize("", htmlToText(`<p>Change header</p><p>Brass Koala<br>Bear</p>`)).Lines()
	want := []string{"Change header", "Brass Koala", "Bear"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}
