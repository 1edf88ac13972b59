package fixture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
)

var ErrMissingPart = errors.New("multipart body misses a required part")

// Multipart encodes the request as multipart/related: the JSON document
// followed by the N1 SM message as a binary part.
func (r *Request) Multipart() (body []byte, contentType string, err error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	doc, err := r.MarshalJSON()
	if err != nil {
		return nil, "", fmt.Errorf("marshal json part: %w", err)
	}

	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"application/json"},
		"Content-Id":   {JSONDataContentID},
	})
	if err != nil {
		return nil, "", err
	}
	if _, err = part.Write(doc); err != nil {
		return nil, "", err
	}

	part, err = w.CreatePart(textproto.MIMEHeader{
		"Content-Type": {N1SmMsgContentType},
		"Content-Id":   {r.N1SmMsg.ContentID},
	})
	if err != nil {
		return nil, "", err
	}
	if _, err = part.Write(r.N1SmPayload); err != nil {
		return nil, "", err
	}
	if err = w.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), "multipart/related; boundary=" + w.Boundary(), nil
}

// ParseMultipart reads a body produced by Multipart.
func ParseMultipart(contentType string, body io.Reader) (*Request, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("parse content type [%s]: %w", contentType, err)
	}
	if mediaType != "multipart/related" {
		return nil, fmt.Errorf("unexpected content type [%s]", mediaType)
	}

	req := &Request{}
	var gotJSON, gotN1 bool
	mr := multipart.NewReader(body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read part: %w", err)
		}

		buf, err := io.ReadAll(part)
		if err != nil {
			return nil, fmt.Errorf("read part body: %w", err)
		}

		switch part.Header.Get("Content-Type") {
		case "application/json":
			if err := req.UnmarshalJSON(buf); err != nil {
				return nil, fmt.Errorf("decode json part: %w", err)
			}
			gotJSON = true
		case N1SmMsgContentType:
			req.N1SmPayload = buf
			gotN1 = true
		}
	}

	if !gotJSON || !gotN1 {
		return nil, ErrMissingPart
	}
	return req, nil
}
