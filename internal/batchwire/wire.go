// Package batchwire encodes work items into the newline-delimited batch request
// format and decodes the matching response file.
package batchwire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const ModalityImage = "IMAGE"

type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type ImageConfig struct {
	ImageSize string `json:"imageSize,omitempty"`
}

type GenerationConfig struct {
	ResponseModalities []string     `json:"responseModalities"`
	Seed               *int32       `json:"seed,omitempty"`
	ImageConfig        *ImageConfig `json:"imageConfig,omitempty"`
}

type Request struct {
	Model            string           `json:"model"`
	Contents         []Content        `json:"contents"`
	GenerationConfig GenerationConfig `json:"generationConfig"`
}

// RequestLine is one record of the batch input file.
type RequestLine struct {
	CustomID string  `json:"customId"`
	Request  Request `json:"request"`
}

// ErrorBody accepts either {"code","message","status"} or a bare string.
type ErrorBody struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
}

func (e *ErrorBody) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = ErrorBody{Message: s}
		return nil
	}
	type alias ErrorBody
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*e = ErrorBody(a)
	return nil
}

// Text is the human-readable failure message.
func (e *ErrorBody) Text() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Status != "" {
		return e.Status
	}
	if e.Code != 0 {
		return fmt.Sprintf("error code %d", e.Code)
	}
	return "unknown error"
}

type Candidate struct {
	Content      *Content `json:"content,omitempty"`
	FinishReason string   `json:"finishReason,omitempty"`
}

type Response struct {
	Candidates []Candidate `json:"candidates,omitempty"`
	Error      *ErrorBody  `json:"error,omitempty"`
}

// ResponseLine is one record of the batch output file. Some producers use
// "key" instead of "customId"; both are accepted.
type ResponseLine struct {
	CustomID string     `json:"customId,omitempty"`
	Key      string     `json:"key,omitempty"`
	Response *Response  `json:"response,omitempty"`
	Error    *ErrorBody `json:"error,omitempty"`
}

func (l *ResponseLine) ID() string {
	if l.CustomID != "" {
		return l.CustomID
	}
	return l.Key
}

var errMissingID = errors.New("response line has no customId")
