package visibility

import (
	"fmt"
	"testing"
)

func TestViewport_Visible(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		scrollTop float64
		rect      Rect
		want      bool
	}{
		{
			name: "inside viewport",
			rect: Rect{Top: 100, Height: 100},
			want: true,
		},
		{
			name: "below viewport",
			rect: Rect{Top: 700, Height: 100},
			want: false,
		},
		{
			name: "below viewport within margin",
			opts: Options{RootMargin: 200},
			rect: Rect{Top: 700, Height: 100},
			want: true,
		},
		{
			name:      "above viewport",
			scrollTop: 1000,
			rect:      Rect{Top: 100, Height: 100},
			want:      false,
		},
		{
			name: "partial overlap below threshold",
			opts: Options{Threshold: 0.5},
			rect: Rect{Top: 580, Height: 100},
			want: false,
		},
		{
			name: "partial overlap meets threshold",
			opts: Options{Threshold: 0.2},
			rect: Rect{Top: 580, Height: 100},
			want: true,
		},
		{
			name: "touching edge is not overlap",
			rect: Rect{Top: 600, Height: 100},
			want: false,
		},
		{
			name: "zero height sentinel on edge",
			rect: Rect{Top: 600, Height: 0},
			want: true,
		},
		{
			name: "zero height sentinel beyond margin",
			opts: Options{RootMargin: 50},
			rect: Rect{Top: 651, Height: 0},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vp := NewViewport(600, tt.opts)
			vp.Place("end", Rect{Top: 5000})
			vp.ScrollTo(tt.scrollTop)
			vp.Place("t", tt.rect)
			if got := vp.Visible("t"); got != tt.want {
				t.Errorf("Visible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestViewport_WatchReportsInitialAndChanges(t *testing.T) {
	vp := NewViewport(600, Options{})
	vp.Place("t", Rect{Top: 800, Height: 100})

	var reports []bool
	cancel := vp.Watch("t", func(visible bool) { reports = append(reports, visible) })

	vp.ScrollTo(300)
	cancel()
	vp.ScrollTo(0)

	if len(reports) != 2 || reports[0] || !reports[1] {
		t.Errorf("reports = %v, want [false true]", reports)
	}
}

func TestViewport_RemoveHidesTarget(t *testing.T) {
	vp := NewViewport(600, Options{})
	vp.Place("t", Rect{Top: 0, Height: 10})

	var last bool
	vp.Watch("t", func(visible bool) { last = visible })
	if !last {
		t.Fatal("expected initial visible report")
	}

	vp.Remove("t")
	if last {
		t.Error("removed target still reported visible")
	}
}

func TestViewport_ScrollClamps(t *testing.T) {
	tests := []struct {
		name   string
		rects  []Rect
		scroll float64
		want   float64
	}{
		{"above top", []Rect{{Top: 0, Height: 2000}}, -50, 0},
		{"within document", []Rect{{Top: 0, Height: 2000}}, 700, 700},
		{"past bottom", []Rect{{Top: 0, Height: 300}, {Top: 900}}, 2000, 300},
		{"document shorter than viewport", []Rect{{Top: 0, Height: 300}}, 400, 0},
		{"empty document", nil, 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vp := NewViewport(600, Options{})
			for i, r := range tt.rects {
				vp.Place(Target(fmt.Sprintf("t%d", i)), r)
			}
			vp.ScrollTo(tt.scroll)
			if got := vp.ScrollTop(); got != tt.want {
				t.Errorf("ScrollTop() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestViewport_ScrollPastBottomKeepsSentinelVisible(t *testing.T) {
	vp := NewViewport(600, Options{})
	for i := 0; i < 3; i++ {
		vp.Place(Target(fmt.Sprintf("row-%d", i)), Rect{Top: float64(i) * 300, Height: 300})
	}
	vp.Place("sentinel", Rect{Top: 900})

	vp.ScrollTo(2000)
	if !vp.Visible("sentinel") {
		t.Errorf("sentinel not visible at ScrollTop() = %v", vp.ScrollTop())
	}
}

func TestParseMargin(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{in: "200px", want: 200},
		{in: " 50 ", want: 50},
		{in: "", want: 0},
		{in: "abc", wantErr: true},
		{in: "-5px", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseMargin(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMargin(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMargin(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestOptions_Validate(t *testing.T) {
	if err := DefaultOptions().Validate(); err != nil {
		t.Errorf("DefaultOptions().Validate() error = %v", err)
	}
	if err := (Options{Threshold: 1.5}).Validate(); err == nil {
		t.Error("expected error for threshold > 1")
	}
	if err := (Options{RootMargin: -1}).Validate(); err == nil {
		t.Error("expected error for negative margin")
	}
}
