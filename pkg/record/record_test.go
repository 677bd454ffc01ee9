package record

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func decodeRecord(t *testing.T, raw string) Record {
	t.Helper()
	v, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("Decode() returned %T, want object", v)
	}
	return Record(obj)
}

func TestSchema_Key(t *testing.T) {
	schema := DefaultSchema()

	tests := []struct {
		name   string
		raw    string
		want   string
		wantOK bool
	}{
		{
			name:   "nested org entity",
			raw:    `{"orgaoEntidade":{"cnpj":"00394445000166"},"anoCompra":2024,"numeroCompra":"90001"}`,
			want:   "00394445000166_2024_90001",
			wantOK: true,
		},
		{
			name:   "flat fallbacks",
			raw:    `{"cnpjOrgao":"11222333000144","ano":"2023","numero":7}`,
			want:   "11222333000144_2023_7",
			wantOK: true,
		},
		{
			name:   "empty nested value falls through",
			raw:    `{"orgaoEntidade":{"cnpj":""},"cnpj":"99","anoCompra":2024,"numeroCompra":1}`,
			want:   "99_2024_1",
			wantOK: true,
		},
		{
			name:   "case preserved",
			raw:    `{"cnpj":"AbC","anoCompra":2024,"numeroCompra":"X-1"}`,
			want:   "AbC_2024_X-1",
			wantOK: true,
		},
		{
			name:   "missing sequence",
			raw:    `{"cnpj":"99","anoCompra":2024}`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := schema.Key(decodeRecord(t, tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("Key() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		want   time.Time
		wantOK bool
	}{
		{"iso with zulu", "2024-03-05T10:20:30Z", time.Date(2024, 3, 5, 10, 20, 30, 0, time.UTC), true},
		{"iso without zone", "2024-03-05T10:20:30", time.Date(2024, 3, 5, 10, 20, 30, 0, time.UTC), true},
		{"iso with offset", "2024-03-05T10:20:30-03:00", time.Date(2024, 3, 5, 13, 20, 30, 0, time.UTC), true},
		{"date only", "2024-03-05", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), true},
		{"brazilian date", "05/03/2024", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), true},
		{"compact date", "20240115", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), true},
		{"epoch seconds number", json.Number("1709633430"), time.Unix(1709633430, 0).UTC(), true},
		{"epoch millis float", float64(1709633430000), time.UnixMilli(1709633430000).UTC(), true},
		{"epoch string", "1709633430", time.Unix(1709633430, 0).UTC(), true},
		{"garbage", "not a date", time.Time{}, false},
		{"empty", "", time.Time{}, false},
		{"nil", nil, time.Time{}, false},
		{"object", map[string]any{}, time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.value)
			if ok != tt.wantOK {
				t.Fatalf("ParseTimestamp(%v) ok = %v, want %v", tt.value, ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("ParseTimestamp(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestSchema_Timestamp_PriorityOrder(t *testing.T) {
	schema := DefaultSchema()

	r := decodeRecord(t, `{
		"dataPublicacaoPncp": "garbage",
		"dataAtualizacao": "2024-05-01T08:00:00",
		"dataInclusao": "2020-01-01"
	}`)

	got, ok := schema.Timestamp(r)
	if !ok {
		t.Fatal("Timestamp() ok = false, want true")
	}
	want := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Timestamp() = %v, want %v", got, want)
	}

	if _, ok := schema.Timestamp(decodeRecord(t, `{"dataAtualizacao": "??"}`)); ok {
		t.Error("Timestamp() with only unparsable candidates should be missing")
	}
}

func TestSchema_MonthHint(t *testing.T) {
	schema := DefaultSchema()

	tests := []struct {
		name   string
		raw    string
		want   int
		wantOK bool
	}{
		{"explicit month number", `{"mesCompra": 4}`, 4, true},
		{"explicit month string", `{"mes": "11"}`, 11, true},
		{"invalid explicit month falls through", `{"mesCompra": 13, "dataPublicacao": "2024-02-10"}`, 2, true},
		{"iso date", `{"dataInclusao": "2024-07-01T10:00:00"}`, 7, true},
		{"brazilian date", `{"data": "15/09/2024"}`, 9, true},
		{"no hint", `{"descricao": "x"}`, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := schema.MonthHint(decodeRecord(t, tt.raw))
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("MonthHint() = (%d, %v), want (%d, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestSchema_AnnotateAndItemKey(t *testing.T) {
	schema := DefaultSchema()
	parent := Identity{OrgKey: "123", Period: "2024", Sequence: "9"}

	item := decodeRecord(t, `{"numeroItem": 3, "descricao": "caneta"}`)
	schema.Annotate(item, parent)

	parentKey, ok := schema.ParentKey(item)
	if !ok || parentKey != "123_2024_9" {
		t.Errorf("ParentKey() = (%q, %v), want (%q, true)", parentKey, ok, "123_2024_9")
	}

	key, ok := schema.ItemKey(item)
	if !ok || key != "123_2024_9_3" {
		t.Errorf("ItemKey() = (%q, %v), want (%q, true)", key, ok, "123_2024_9_3")
	}

	if _, ok := schema.ItemKey(Record{"numeroItem": "1"}); ok {
		t.Error("ItemKey() on unannotated item should fail")
	}
}

func TestFromList(t *testing.T) {
	records, dropped := FromList([]any{map[string]any{"a": 1}, "oops", nil, map[string]any{}})
	if len(records) != 2 {
		t.Errorf("FromList() records = %d, want 2", len(records))
	}
	if dropped != 2 {
		t.Errorf("FromList() dropped = %d, want 2", dropped)
	}
}

func TestSchema_Published(t *testing.T) {
	schema := DefaultSchema()

	got, ok := schema.Published(decodeRecord(t, `{"dataPublicacaoPncp": "2024-02-10T09:00:00"}`))
	if !ok {
		t.Fatal("Published() ok = false, want true")
	}
	want := time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Published() = %v, want %v", got, want)
	}

	if _, ok := schema.Published(decodeRecord(t, `{"dataAtualizacao": "2024-02-10"}`)); ok {
		t.Error("Published() without a publication field should be missing")
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantErr      bool
		wantTrailing bool
	}{
		{"single document", `[{"a":1}]`, false, false},
		{"trailing whitespace", "{\"a\":1}\n  ", false, false},
		{"truncated second value", `[{"a":1}] {"truncated":`, true, true},
		{"concatenated values", `{"a":1}{"b":2}`, true, true},
		{"truncated document", `[{"a":1}`, true, false},
		{"empty", ``, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got := errors.Is(err, ErrTrailingData); got != tt.wantTrailing {
				t.Errorf("Decode(%q) trailing = %v, want %v (err %v)", tt.raw, got, tt.wantTrailing, err)
			}
		})
	}
}
