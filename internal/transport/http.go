package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/gallerydrop/internal/merge"
	"github.com/dharsanguruparan/gallerydrop/internal/signing"
)

// Ack is the body the upload endpoint answers with.
type Ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// HTTPTransport posts each file as a multipart form to the upload endpoint.
type HTTPTransport struct {
	client *resty.Client
	url    string
	signer *signing.Signer
}

// NewHTTP returns a transport posting to url. signer may be nil. No client
// timeout is set; transfers are bounded by their context only.
func NewHTTP(url string, signer *signing.Signer, log logrus.FieldLogger) *HTTPTransport {
	client := resty.New().SetLogger(log)
	return &HTTPTransport{client: client, url: url, signer: signer}
}

// Transfer streams p to the endpoint. The multipart body is produced through
// a pipe so progress follows what the network actually consumed.
func (t *HTTPTransport) Transfer(ctx context.Context, p merge.Payload, fn ProgressFunc) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	counter := newProgress(p.Size(), fn)
	written := make(chan struct{})
	go func() {
		defer close(written)
		pw.CloseWithError(writeForm(mw, p, counter))
	}()
	// Progress must not be reported after Transfer returns.
	defer func() {
		pr.Close()
		<-written
	}()

	req := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", mw.FormDataContentType()).
		SetBody(pr)
	if t.signer != nil {
		req.SetHeaders(t.signer.Headers(p.BatchID + ":" + p.ItemID))
	}
	resp, err := req.Post(t.url)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("transfer %s: %w", p.FileName, ctxErr)
		}
		return &NetworkError{Err: err}
	}
	return interpret(resp.StatusCode(), resp.Body())
}

func interpret(status int, body []byte) error {
	switch {
	case status == http.StatusRequestEntityTooLarge:
		return ErrPayloadTooLarge
	case status != http.StatusOK:
		// Only a 200 carries an acknowledgement; other 2xx answers count as
		// server errors too.
		return &ServerError{StatusCode: status, Body: snippet(body)}
	}
	var ack Ack
	if err := json.Unmarshal(body, &ack); err != nil {
		return &ServerError{StatusCode: status, Body: "malformed acknowledgement"}
	}
	if !ack.Success {
		return &RejectedError{Reason: ack.Error}
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeForm(mw *multipart.Writer, p merge.Payload, counter *progress) error {
	for key, value := range p.Fields() {
		if err := mw.WriteField(key, value); err != nil {
			return err
		}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(p.FileName)))
	contentType := p.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, counter.reader(bytes.NewReader(p.Data))); err != nil {
		return err
	}
	return mw.Close()
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
