package logging

import (
	"fmt"
	"strings"

	"github.com/rivo/uniseg"

	"github.com/axelb/pire/peerid"
)

// FormatPeerTable renders peers as an aligned, human-readable table with
// ID, ADDR and STATUS columns. Column widths are computed with
// uniseg.StringWidth rather than len/utf8.RuneCountInString, since an
// address received from an untrusted peer could contain multi-rune
// grapheme clusters that a byte or rune count would misalign.
func FormatPeerTable(peers []peerid.PeerNode) string {
	headers := []string{"ID", "ADDR", "STATUS"}
	rows := make([][3]string, len(peers))
	widths := [3]int{uniseg.StringWidth(headers[0]), uniseg.StringWidth(headers[1]), uniseg.StringWidth(headers[2])}

	for i, p := range peers {
		row := [3]string{
			fmt.Sprintf("%d", p.ID()),
			p.Addr().String(),
			p.Status().String(),
		}
		rows[i] = row
		for c, cell := range row {
			if w := uniseg.StringWidth(cell); w > widths[c] {
				widths[c] = w
			}
		}
	}

	var b strings.Builder
	writeRow := func(cells [3]string) {
		for c, cell := range cells {
			pad := widths[c] - uniseg.StringWidth(cell)
			b.WriteString(cell)
			b.WriteString(strings.Repeat(" ", pad+2))
		}
		b.WriteByte('\n')
	}
	writeRow([3]string{headers[0], headers[1], headers[2]})
	for _, row := range rows {
		writeRow(row)
	}
	return b.String()
}
