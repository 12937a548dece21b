package batchwire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	MsgNoCandidates = "No candidates in response"
	MsgNoParts      = "No parts in response"
	MsgNoImageData  = "No image data in response"
)

// Item is one work item to be encoded into the request file.
type Item struct {
	RunID      string
	FileName   string
	Model      string
	Prompt     string
	Image      []byte
	MIMEType   string
	Seed       *int32
	OutputSize string
}

// NewRequestLine builds the record for it. The prompt part comes first,
// followed by the inline image.
func NewRequestLine(it Item) RequestLine {
	cfg := GenerationConfig{
		ResponseModalities: []string{ModalityImage},
		Seed:               it.Seed,
	}
	if it.OutputSize != "" {
		cfg.ImageConfig = &ImageConfig{ImageSize: it.OutputSize}
	}
	return RequestLine{
		CustomID: CorrelationID(it.RunID, it.FileName),
		Request: Request{
			Model: it.Model,
			Contents: []Content{{
				Role: "user",
				Parts: []Part{
					{Text: it.Prompt},
					{InlineData: &Blob{MIMEType: it.MIMEType, Data: it.Image}},
				},
			}},
			GenerationConfig: cfg,
		},
	}
}

// EncodeRequests writes one JSON record per line.
func EncodeRequests(w io.Writer, lines []RequestLine) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for i := range lines {
		if lines[i].CustomID == "" {
			return fmt.Errorf("request line %d: %w", i+1, errMissingID)
		}
		if err := enc.Encode(&lines[i]); err != nil {
			return fmt.Errorf("request line %d: %w", i+1, err)
		}
	}
	return bw.Flush()
}

// EncodeResponses writes an output file in the same line format the service
// produces. Used by the dev adapter and tests.
func EncodeResponses(w io.Writer, lines []ResponseLine) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for i := range lines {
		if err := enc.Encode(&lines[i]); err != nil {
			return fmt.Errorf("response line %d: %w", i+1, err)
		}
	}
	return bw.Flush()
}

// DecodeRequests reads a request file back, e.g. for inspection. It stops at
// the first malformed line.
func DecodeRequests(r io.Reader) ([]RequestLine, error) {
	var out []RequestLine
	err := eachLine(r, func(n int, raw []byte) error {
		var l RequestLine
		if err := json.Unmarshal(raw, &l); err != nil {
			return fmt.Errorf("request line %d: %w", n, err)
		}
		out = append(out, l)
		return nil
	})
	return out, err
}

// Decoded is one parsed output line. Err is set when the line itself could not
// be decoded; it never aborts the rest of the file.
type Decoded struct {
	LineNo int
	Line   *ResponseLine
	Err    error
}

// DecodeResponses parses every non-blank line independently. The returned
// error is only for read failures of r.
func DecodeResponses(r io.Reader) ([]Decoded, error) {
	var out []Decoded
	err := eachLine(r, func(n int, raw []byte) error {
		var l ResponseLine
		d := Decoded{LineNo: n}
		if err := json.Unmarshal(raw, &l); err != nil {
			d.Err = fmt.Errorf("line %d: %w", n, err)
		} else if l.ID() == "" {
			d.Err = fmt.Errorf("line %d: %w", n, errMissingID)
		} else {
			d.Line = &l
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

func eachLine(r io.Reader, fn func(n int, raw []byte) error) error {
	br := bufio.NewReader(r)
	n := 0
	for {
		raw, err := br.ReadBytes('\n')
		if len(raw) > 0 {
			n++
			if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 {
				if ferr := fn(n, trimmed); ferr != nil {
					return ferr
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Result is what a single response record yields after extraction.
type Result struct {
	ID       string
	Image    []byte
	MIMEType string
	Error    string
}

func (r Result) OK() bool { return r.Error == "" }

// Extract applies the fixed precedence: top-level error, nested error, missing
// candidates, missing parts, first inline image, otherwise no image data.
// An explicit error always wins over image data in the same record.
func Extract(l *ResponseLine) Result {
	res := Result{ID: l.ID()}
	if l.Error != nil {
		res.Error = l.Error.Text()
		return res
	}
	if l.Response != nil && l.Response.Error != nil {
		res.Error = l.Response.Error.Text()
		return res
	}
	if l.Response == nil || len(l.Response.Candidates) == 0 {
		res.Error = MsgNoCandidates
		return res
	}
	var parts []Part
	for _, c := range l.Response.Candidates {
		if c.Content != nil {
			parts = append(parts, c.Content.Parts...)
		}
	}
	if len(parts) == 0 {
		res.Error = MsgNoParts
		return res
	}
	for _, p := range parts {
		if p.InlineData != nil && len(p.InlineData.Data) > 0 {
			res.Image = p.InlineData.Data
			res.MIMEType = p.InlineData.MIMEType
			return res
		}
	}
	res.Error = MsgNoImageData
	return res
}
