package proto

import (
	"strconv"
	"strings"
)

// EncodeDragInfo renders the DFTR payload: one "name\tsize" record per line,
// joined with "\n".
func EncodeDragInfo(files []DragFileEntry) []byte {
	lines := make([]string, len(files))
	for i, f := range files {
		lines[i] = f.Name + "\t" + strconv.FormatInt(f.Size, 10)
	}
	return []byte(strings.Join(lines, "\n"))
}

// DecodeDragInfo parses a DFTR payload back into file entries. Malformed
// records (missing tab, non-numeric size) are skipped rather than failing
// the whole decode, so a payload with no well-formed record yields no
// entries. Strict grammar checking applies only to DFCR start chunks (see
// DecodeFileChunk).
func DecodeDragInfo(body []byte) []DragFileEntry {
	if len(body) == 0 {
		return nil
	}
	lines := strings.Split(string(body), "\n")
	files := make([]DragFileEntry, 0, len(lines))
	for _, line := range lines {
		idx := strings.LastIndex(line, "\t")
		if idx < 0 {
			continue
		}
		size, err := strconv.ParseInt(line[idx+1:], 10, 64)
		if err != nil {
			continue
		}
		files = append(files, DragFileEntry{Name: line[:idx], Size: size})
	}
	return files
}
