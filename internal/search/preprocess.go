package search

import (
	"bufio"
	"strings"
	"unicode/utf8"
)

// PrepareDocument flattens encyclopedia plain text into paragraphs: section
// headings ("== Plot ==") become standalone lines, table rows are joined into
// facts and runs of blank lines collapse to one.
//
// Notes:
//   - Avoids emitting a leading blank line.
//   - The result never ends with a newline.
func PrepareDocument(text string) string {
	var b strings.Builder
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	wroteBlank := true // start true to avoid a leading blank

	writeFact := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		b.WriteString(s)
		b.WriteByte('\n')
		wroteBlank = false
	}
	blank := func() {
		if !wroteBlank {
			b.WriteByte('\n')
			wroteBlank = true
		}
	}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			blank()
			continue
		}

		// heading: "== Title =="
		if strings.HasPrefix(line, "==") && strings.HasSuffix(line, "==") {
			blank()
			writeFact(strings.Trim(line, "= "))
			blank()
			continue
		}

		// table row: "| ... |"
		if strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|") {
			raw := strings.Trim(line, "|")
			cols := strings.Split(raw, "|")

			allSep := true
			cleaned := make([]string, 0, len(cols))
			for _, c := range cols {
				cell := strings.TrimSpace(c)
				if cell != "" {
					cleaned = append(cleaned, cell)
				}
				tmp := strings.ReplaceAll(cell, ":", "")
				tmp = strings.ReplaceAll(tmp, "-", "")
				if strings.TrimSpace(tmp) != "" {
					allSep = false
				}
			}
			if allSep || len(cleaned) == 0 {
				continue
			}
			blank()
			writeFact(strings.Join(cleaned, " "))
			blank()
			continue
		}

		writeFact(line)
	}
	// bufio only fails on lines over the buffer cap; keep what was read.
	return strings.TrimRight(b.String(), "\n")
}

// Chunk splits text into pieces of at most size runes, with overlap runes
// shared between neighbours. Paragraph boundaries are preferred: paragraphs
// are packed greedily and only a paragraph longer than size is cut by rune
// windows.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var out []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
		curLen = 0
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		n := utf8.RuneCountInString(para)
		if n > size {
			flush()
			out = append(out, window([]rune(para), size, overlap)...)
			continue
		}
		if curLen > 0 && curLen+1+n > size {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte('\n')
			curLen++
		}
		cur.WriteString(para)
		curLen += n
	}
	flush()
	return out
}

func window(r []rune, size, overlap int) []string {
	step := size - overlap
	var out []string
	for start := 0; start < len(r); start += step {
		end := start + size
		if end > len(r) {
			end = len(r)
		}
		out = append(out, string(r[start:end]))
		if end == len(r) {
			break
		}
	}
	return out
}
