package synoapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFamily_Encode(t *testing.T) {
	tests := []struct {
		name     string
		encoding Encoding
		values   []string
		want     string
	}{
		{"plain single", EncodePlain, []string{"dbid_1"}, "dbid_1"},
		{"plain many", EncodePlain, []string{"dbid_1", "dbid_2"}, "dbid_1,dbid_2"},
		{"json array single", EncodeJSONArray, []string{"/docs/a b.txt"}, `["/docs/a b.txt"]`},
		{"json array many", EncodeJSONArray, []string{"/a", "/b"}, `["/a","/b"]`},
		{"json array unicode", EncodeJSONArray, []string{"/fotos/ção"}, `["/fotos/ção"]`},
		{"quoted", EncodeQuoted, []string{"5d0c-uuid"}, `"5d0c-uuid"`},
		{"quoted escapes", EncodeQuoted, []string{`we"ird`}, `"we\"ird"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Family{API: "X", Version: 1, Encoding: tt.encoding}
			assert.Equal(t, tt.want, f.Encode(tt.values...))
		})
	}
}

func TestFamily_Op(t *testing.T) {
	f := Family{API: "SYNO.DownloadStation.Info", Version: 2, CGI: "DownloadStation/info.cgi"}
	d := f.Op("getinfo", VerbQuery, nil)

	assert.Equal(t, "SYNO.DownloadStation.Info.getinfo", d.Op())
	assert.NotNil(t, d.Params)
	assert.Equal(t, "DownloadStation/info.cgi", d.CGI)

	v1 := d.WithVersion(1)
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, 2, d.Version, "WithVersion must not modify the receiver")
}

func TestJSONArrayEmpty(t *testing.T) {
	assert.Equal(t, "[]", JSONArray())
	assert.Equal(t, "true", Bool(true))
	assert.Equal(t, "false", Bool(false))
	assert.Equal(t, "form", VerbForm.String())
}
