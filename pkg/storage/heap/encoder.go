package heap

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strconv"
	"strings"

	"pagedb/pkg/dberr"
	"pagedb/pkg/primitives"
	"pagedb/pkg/storage/page"
	"pagedb/pkg/tuple"
	"pagedb/pkg/types"
)

// Convert reads comma-separated text records and writes consecutive binary
// heap pages in the on-disk heap file format.
//
// Input rules: records are terminated by '\n'; a lone '\r' is ignored; empty
// lines are skipped; a trailing record without a newline is still committed.
// Integer fields are trimmed and parsed; string fields are trimmed and
// truncated to types.StringLen.
//
// Output rules: each page is exactly page.PageSize bytes, the final page
// zero-padded. An input with zero records still emits exactly one empty page.
func Convert(in io.Reader, out io.Writer, td *tuple.TupleDescription) error {
	numSlots := NumSlotsPerPage(td)
	headerBytes := page.HeaderBytes(numSlots)

	var (
		slotBuf     bytes.Buffer
		recordCount int
		pagesOut    int
	)

	flushPage := func() error {
		header := make([]byte, headerBytes)
		for i := 0; i < recordCount; i++ {
			page.SetBit(header, i)
		}

		pageData := make([]byte, page.PageSize)
		copy(pageData, header)
		copy(pageData[headerBytes:], slotBuf.Bytes())

		if _, err := out.Write(pageData); err != nil {
			return dberr.Wrap(dberr.IoError, err, "failed to write heap page")
		}
		slotBuf.Reset()
		recordCount = 0
		pagesOut++
		return nil
	}

	reader := bufio.NewReader(in)
	for {
		line, err := reader.ReadString('\n')
		atEOF := err == io.EOF
		if err != nil && !atEOF {
			return dberr.Wrap(dberr.IoError, err, "failed to read input")
		}

		line = strings.ReplaceAll(line, "\r", "")
		line = strings.TrimSuffix(line, "\n")
		if line != "" {
			if err := encodeRecord(line, td, &slotBuf); err != nil {
				return err
			}
			recordCount++
			if recordCount >= numSlots {
				if err := flushPage(); err != nil {
					return err
				}
			}
		}

		if atEOF {
			break
		}
	}

	if recordCount > 0 || pagesOut == 0 {
		return flushPage()
	}
	return nil
}

// ConvertFile converts the text file at inPath into the heap file at outPath.
func ConvertFile(inPath, outPath primitives.Filepath, td *tuple.TupleDescription) error {
	in, err := os.Open(inPath.String())
	if err != nil {
		return dberr.Wrap(dberr.IoError, err, "failed to open input file")
	}
	defer in.Close()

	out, err := os.Create(outPath.String())
	if err != nil {
		return dberr.Wrap(dberr.IoError, err, "failed to create output file")
	}
	defer out.Close()

	if err := Convert(in, out, td); err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return dberr.Wrap(dberr.IoError, err, "failed to sync output file")
	}
	return nil
}

// encodeRecord appends the binary encoding of one comma-separated record.
func encodeRecord(line string, td *tuple.TupleDescription, buf *bytes.Buffer) error {
	values := strings.Split(line, ",")
	if len(values) != td.NumFields() {
		return dberr.New(dberr.IllegalArgument,
			"record has %d fields, schema wants %d: %q", len(values), td.NumFields(), line)
	}

	for i, raw := range values {
		fieldType, err := td.TypeAtIndex(i)
		if err != nil {
			return err
		}
		value := strings.TrimSpace(raw)

		switch fieldType {
		case types.IntType:
			n, err := strconv.ParseInt(value, 10, 32)
			if err != nil {
				return dberr.New(dberr.IllegalArgument, "bad integer %q in record %q", value, line)
			}
			if err := types.NewIntField(int32(n)).Serialize(buf); err != nil {
				return dberr.Wrap(dberr.IoError, err, "failed to encode int field")
			}

		case types.StringType:
			if err := types.NewStringField(value).Serialize(buf); err != nil {
				return dberr.Wrap(dberr.IoError, err, "failed to encode string field")
			}

		default:
			return dberr.New(dberr.IllegalArgument, "unsupported field type %v", fieldType)
		}
	}
	return nil
}
