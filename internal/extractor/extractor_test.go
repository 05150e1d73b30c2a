package extractor

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/timmy/portalflow/internal/domain"
)

func payloadDiv(json string) string {
	return `<div id="r" data-record="` + base64.StdEncoding.EncodeToString([]byte(json)) + `"></div>`
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		markup string
		want   domain.ExtractedRecord
	}{
		{
			name: "payload beats labeled block for name",
			markup: payloadDiv(`{"name":"Alice Payload","national_id":"1234567890123456"}`) +
				`<h3>Participant Name</h3><p>Name: Bob Block</p><p>Born 01-02-1990</p>`,
			want: domain.ExtractedRecord{
				Name:       "Alice Payload",
				NationalID: "1234567890123456",
				BirthDate:  "01-02-1990",
			},
		},
		{
			name: "labeled block table",
			markup: `<html><body><h2>Participant Name</h2><table>` +
				`<tr><td>Name</td><td>Jane Q Doe</td></tr>` +
				`<tr><td>NID</td><td>3201234567890123</td></tr>` +
				`<tr><td>Date of birth</td><td>15-08-1985</td></tr>` +
				`</table></body></html>`,
			want: domain.ExtractedRecord{
				Name:       "Jane Q Doe",
				NationalID: "3201234567890123",
				BirthDate:  "15-08-1985",
			},
		},
		{
			name: "free text ignores scripts",
			markup: `<p>Holder name: John Smith</p>` +
				`<script>var leaked = "9999999999999999";</script>` +
				`<p>ID 1234567890123456, born 01-01-2000</p>`,
			want: domain.ExtractedRecord{
				Name:       "John Smith",
				NationalID: "1234567890123456",
				BirthDate:  "01-01-2000",
			},
		},
		{
			name: "each strategy fills what is missing",
			cfg:  Config{Window: 60},
			markup: payloadDiv(`{"full_name":"Maria Lopez","identifier":"12345678901"}`) +
				`<h3>Participant Name</h3><span>NID 1111222233334444</span>` +
				`<p>` + strings.Repeat("x", 80) + `</p><p>Registered 31-12-1999</p>`,
			want: domain.ExtractedRecord{
				Name:       "Maria Lopez",
				NationalID: "1111222233334444",
				BirthDate:  "31-12-1999",
				Identifier: "12345678901",
			},
		},
		{
			name:   "value directly under the heading cell",
			markup: `<table><tr><th>Participant Name</th><td>Jane Doe</td></tr></table>`,
			want:   domain.ExtractedRecord{Name: "Jane Doe"},
		},
		{
			name: "value directly under the heading block",
			markup: `<h3>Participant Name</h3><p>Jane Doe</p>` +
				`<p>NID 1234567890123456</p><p>Status Active</p>`,
			want: domain.ExtractedRecord{Name: "Jane Doe", NationalID: "1234567890123456"},
		},
		{
			name:   "name stops at the next label",
			markup: `<p>Name: Jane Doe Born 01-02-1990</p>`,
			want:   domain.ExtractedRecord{Name: "Jane Doe", BirthDate: "01-02-1990"},
		},
		{
			name:   "undecodable payload falls through",
			markup: `<div data-record="%%%not-base64%%%"></div><p>name: Ken Adams</p>`,
			want:   domain.ExtractedRecord{Name: "Ken Adams"},
		},
		{
			name:   "longer digit runs are not national ids",
			markup: `<p>Reference 12345678901234567890</p>`,
			want:   domain.ExtractedRecord{},
		},
		{
			name:   "nothing to find",
			markup: `<html><body>No results</body></html>`,
			want:   domain.ExtractedRecord{},
		},
		{
			name: "empty markup",
			want: domain.ExtractedRecord{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.cfg).Extract(tt.markup)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Extract() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLabeledBlockWindow(t *testing.T) {
	e := New(Config{Window: 20})
	markup := `Participant Name` + strings.Repeat(" ", 30) + `NID 1234567890123456`
	if rec := e.fromLabeledBlock(markup); rec.NationalID != "" {
		t.Errorf("value outside the window was used: %+v", rec)
	}
}

func TestTrimName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Jane Doe", "Jane Doe"},
		{"Jane Doe Born", "Jane Doe"},
		{"Jane Doe NID", "Jane Doe"},
		{"Anna Maria Luisa De La Cruz", "Anna Maria Luisa De La"},
		{"Date", ""},
	}
	for _, tt := range tests {
		if got := trimName(tt.in); got != tt.want {
			t.Errorf("trimName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFlatten(t *testing.T) {
	got := flatten(`<div>Tom &amp; Jerry<style>p{}</style><b> bold </b></div>`)
	if got != "Tom & Jerry\nbold" {
		t.Errorf("flatten() = %q", got)
	}
}
