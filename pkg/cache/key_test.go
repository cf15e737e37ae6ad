package cache

import (
	"net/url"
	"testing"
)

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "endpoint only",
			key:  Key{Endpoint: "/images/count"},
			want: "images/count",
		},
		{
			name: "page query sorted",
			key: Key{
				Endpoint: "/images",
				Query: url.Values{
					"page":  []string{"2"},
					"limit": []string{"30"},
				},
			},
			want: "images:limit=30:page=2",
		},
		{
			name: "with source",
			key: Key{
				Endpoint: "/images",
				Source:   "api.example.com",
				Query:    url.Values{"page": []string{"1"}},
			},
			want: "images:api.example.com:page=1",
		},
		{
			name: "multi-valued parameter",
			key: Key{
				Endpoint: "/images",
				Query:    url.Values{"tag": []string{"a", "b"}},
			},
			want: "images:tag=a,b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("Key.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKey_Determinism(t *testing.T) {
	key := Key{
		Endpoint: "/images",
		Query: url.Values{
			"page":  []string{"3"},
			"limit": []string{"30"},
			"sort":  []string{"asc"},
		},
	}

	first := key.String()
	for i := 0; i < 10; i++ {
		if got := key.String(); got != first {
			t.Fatalf("Key.String() = %v, want %v (not deterministic)", got, first)
		}
	}
}
