package cli

import "testing"

func TestRenderTable(t *testing.T) {
	tbl := Table{
		Columns: []string{"VOICE", "RESOURCES"},
		Data: [][]string{
			{"en-US", "en-US_ta, en-US_lh0_sg"},
			{"fr", ""},
			{"short"},
		},
	}
	got := RenderTable(PlainStyles(), tbl)
	want := "" +
		"VOICE  RESOURCES\n" +
		"en-US  en-US_ta, en-US_lh0_sg\n" +
		"fr     \n" +
		"short  \n"
	if got != want {
		t.Errorf("RenderTable =\n%q\nwant\n%q", got, want)
	}
}

func TestRenderTable_WideRunes(t *testing.T) {
	tbl := Table{Columns: []string{"TEXT", "N"}, Data: [][]string{{"日本", "1"}, {"ab", "2"}}}
	got := RenderTable(PlainStyles(), tbl)
	want := "TEXT  N\n日本  1\nab    2\n"
	if got != want {
		t.Errorf("RenderTable = %q, want %q", got, want)
	}
}
