package gtid

import (
	"bytes"
	"testing"
)

func TestParseList(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []GTID
		wantErr bool
	}{
		{
			name:  "single entry",
			input: "0-1-100",
			want:  []GTID{{DomainID: 0, ServerID: 1, SeqNo: 100}},
		},
		{
			name:  "multiple domains",
			input: "0-1-100,1-2-5,2-1-3000",
			want: []GTID{
				{DomainID: 0, ServerID: 1, SeqNo: 100},
				{DomainID: 1, ServerID: 2, SeqNo: 5},
				{DomainID: 2, ServerID: 1, SeqNo: 3000},
			},
		},
		{
			name:  "empty string is empty list",
			input: "",
			want:  nil,
		},
		{
			name:  "whitespace only is empty list",
			input: "   ",
			want:  nil,
		},
		{
			name:    "one bad entry rejects whole list",
			input:   "0-1-100,bogus,2-1-3",
			wantErr: true,
		},
		{
			name:    "trailing comma rejected",
			input:   "0-1-100,",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseList(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseList(%q) = %v, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseList(%q) unexpected error: %v", tt.input, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseList(%q) returned %d entries, want %d", tt.input, len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("entry %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFormatList(t *testing.T) {
	list := []GTID{
		{DomainID: 0, ServerID: 1, SeqNo: 100},
		{DomainID: 1, ServerID: 2, SeqNo: 5},
	}
	if got, want := FormatList(list), "0-1-100,1-2-5"; got != want {
		t.Errorf("FormatList() = %q, want %q", got, want)
	}
	if got := FormatList(nil); got != "" {
		t.Errorf("FormatList(nil) = %q, want empty", got)
	}
}

func TestBinaryCodecRoundTrip(t *testing.T) {
	list := []GTID{
		{DomainID: 0, ServerID: 1, SeqNo: 100},
		{DomainID: 4294967295, ServerID: 7, SeqNo: 18446744073709551615},
		{DomainID: 3, ServerID: 0, SeqNo: 0},
	}

	var buf bytes.Buffer
	if err := EncodeList(&buf, list); err != nil {
		t.Fatalf("EncodeList failed: %v", err)
	}
	if got, want := buf.Len(), 4+len(list)*binaryEntrySize; got != want {
		t.Errorf("encoded length = %d, want %d", got, want)
	}

	decoded, err := DecodeList(&buf)
	if err != nil {
		t.Fatalf("DecodeList failed: %v", err)
	}
	if len(decoded) != len(list) {
		t.Fatalf("decoded %d entries, want %d", len(decoded), len(list))
	}
	for i := range decoded {
		if decoded[i] != list[i] {
			t.Errorf("entry %d = %v, want %v", i, decoded[i], list[i])
		}
	}
}

func TestDecodeListTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeList(&buf, []GTID{{DomainID: 1, ServerID: 2, SeqNo: 3}}); err != nil {
		t.Fatalf("EncodeList failed: %v", err)
	}
	truncated := buf.Bytes()[:buf.Len()-4]
	if _, err := DecodeList(bytes.NewReader(truncated)); err == nil {
		t.Error("expected error decoding truncated list")
	}
}

func TestDecodeListEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeList(&buf, nil); err != nil {
		t.Fatalf("EncodeList failed: %v", err)
	}
	decoded, err := DecodeList(&buf)
	if err != nil {
		t.Fatalf("DecodeList failed: %v", err)
	}
	if len(decoded) != 0 {
		t.Errorf("decoded %d entries, want 0", len(decoded))
	}
}

func TestSetUpdate(t *testing.T) {
	s := make(Set)
	s.Update(GTID{DomainID: 1, ServerID: 1, SeqNo: 10})
	s.Update(GTID{DomainID: 1, ServerID: 2, SeqNo: 5}) // lower seq, ignored
	s.Update(GTID{DomainID: 1, ServerID: 3, SeqNo: 20})
	s.Update(GTID{DomainID: 2, ServerID: 1, SeqNo: 1})

	if got, want := s[1], (GTID{DomainID: 1, ServerID: 3, SeqNo: 20}); got != want {
		t.Errorf("domain 1 = %v, want %v", got, want)
	}
	if got, want := s.String(), "1-3-20,2-1-1"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	list := s.List(true)
	if len(list) != 2 || list[0].DomainID != 1 || list[1].DomainID != 2 {
		t.Errorf("List(true) = %v, want sorted by domain", list)
	}
}
