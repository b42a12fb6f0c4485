package logging

import (
	"strings"
	"testing"

	"github.com/axelb/pire/peerid"
)

func TestFormatPeerTableAlignsColumns(t *testing.T) {
	peers := []peerid.PeerNode{
		peerid.NewPeerNode(1, peerid.TextAddr("127.0.0.1:4000")),
		peerid.NewPeerNode(123456, peerid.TextAddr("10.0.0.1:9999")),
	}
	out := FormatPeerTable(peers)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "ID") {
		t.Errorf("header row = %q", lines[0])
	}
}

func TestFormatPeerTableEmpty(t *testing.T) {
	out := FormatPeerTable(nil)
	if !strings.Contains(out, "ID") {
		t.Errorf("expected header even with no peers, got %q", out)
	}
}
