package telem

import (
	"reflect"
	"testing"
)

func TestSummarize(t *testing.T) {
	in := []ParsedSample{
		{Identity: "rover/0x1F07/battery_v", Label: "battery_v", Value: 12.3},
		{Identity: "rover/0x1F07/rpm", Label: "rpm", Value: 900},
		{Identity: "dock/520/latch", Label: "latch", Value: 1},
		{Identity: "rover/0x1F07/battery_v", Label: "battery_v", Value: 12.4},
		{Identity: "dock/520/latch", Label: "latch", Value: 0},
	}

	out, catalog := Summarize(in)
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("samples must pass through unchanged")
	}
	want := []UniqueMessageEntry{
		{Identity: "rover/0x1F07", Sender: "rover", FieldLabels: []string{"battery_v", "rpm"}},
		{Identity: "dock/520", Sender: "dock", FieldLabels: []string{"latch"}},
	}
	if !reflect.DeepEqual(catalog, want) {
		t.Fatalf("catalog = %+v, want %+v", catalog, want)
	}
}

func TestSummarizeKeepsInsertionOrder(t *testing.T) {
	in := []ParsedSample{
		{Identity: "dock/11/a", Label: "a"},
		{Identity: "rover/0x1F00/b", Label: "b"},
		{Identity: "implement/9/c", Label: "c"},
		{Identity: "rover/0x1F00/d", Label: "d"},
	}
	_, catalog := Summarize(in)
	order := make([]string, len(catalog))
	for i, e := range catalog {
		order[i] = e.Identity
	}
	want := []string{"dock/11", "rover/0x1F00", "implement/9"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("catalog order = %v, want %v", order, want)
	}
	if !reflect.DeepEqual(catalog[1].FieldLabels, []string{"b", "d"}) {
		t.Fatalf("rover labels = %v, want [b d]", catalog[1].FieldLabels)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	out, catalog := Summarize(nil)
	if len(out) != 0 {
		t.Fatalf("expected no samples")
	}
	if len(catalog) != 0 {
		t.Fatalf("expected empty catalog, got %d entries", len(catalog))
	}
}
