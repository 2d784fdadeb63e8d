// Package manager implements a client for Tomcat's /manager/text web
// application: deploy and undeploy, the two state-changing operations the
// orchestrator drives against every cluster node.
package manager

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sbraverman/pytomcat/cmn"
)

// Client talks to a single node's manager text interface.
type Client struct {
	Host     string
	Port     int
	User     string
	Password string

	// Timeout bounds undeploy and other short requests.
	Timeout time.Duration
	// UploadTimeout bounds deploy, which can take minutes for a large WAR
	// over a slow link.
	UploadTimeout time.Duration
}

// NewClient builds a manager Client with the default short and upload
// timeouts.
func NewClient(host string, port int, user, password string) *Client {
	return &Client{
		Host:          host,
		Port:          port,
		User:          user,
		Password:      password,
		Timeout:       cmn.DefaultTimeoutSeconds * time.Second,
		UploadTimeout: cmn.DefaultUploadTimeoutSeconds * time.Second,
	}
}

func (c *Client) baseURL() string {
	return fmt.Sprintf("http://%s:%d/manager/text", c.Host, c.Port)
}

// Deploy PUTs the WAR at filename to the given context path on vhost,
// reporting progress via progress as the file is streamed, one EventUpload
// per chunk read. vhost may be empty to use the node's default host.
func (c *Client) Deploy(ctx context.Context, filename, context_, vhost string, progress cmn.ProgressFunc) error {
	if progress == nil {
		progress = cmn.NopProgress
	}
	f, err := os.Open(filename)
	if err != nil {
		return cmn.NewTransportError(filename, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return cmn.NewTransportError(filename, err)
	}

	q := url.Values{}
	q.Set("path", context_)
	reqURL := c.baseURL() + "/deploy?" + q.Encode()

	pr := &progressReader{
		r:        f,
		total:    info.Size(),
		node:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		filename: filename,
		url:      reqURL,
		progress: progress,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, reqURL, pr)
	if err != nil {
		return cmn.NewTransportError(reqURL, err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/binary")
	c.setHeaders(req, vhost)

	client := &http.Client{Timeout: c.effectiveUploadTimeout()}
	resp, err := client.Do(req)
	if err != nil {
		return cmn.NewTransportError(reqURL, err)
	}
	defer resp.Body.Close()
	return checkOK(resp)
}

// Undeploy removes the webapp at context path on vhost.
func (c *Client) Undeploy(ctx context.Context, context_, vhost string) error {
	q := url.Values{}
	q.Set("path", context_)
	reqURL := c.baseURL() + "/undeploy?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return cmn.NewTransportError(reqURL, err)
	}
	c.setHeaders(req, vhost)

	client := &http.Client{Timeout: c.effectiveTimeout()}
	resp, err := client.Do(req)
	if err != nil {
		return cmn.NewTransportError(reqURL, err)
	}
	defer resp.Body.Close()
	return checkOK(resp)
}

func (c *Client) setHeaders(req *http.Request, vhost string) {
	req.SetBasicAuth(c.User, c.Password)
	if vhost != "" {
		req.Host = vhost
	}
}

func (c *Client) effectiveTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return cmn.DefaultTimeoutSeconds * time.Second
}

func (c *Client) effectiveUploadTimeout() time.Duration {
	if c.UploadTimeout > 0 {
		return c.UploadTimeout
	}
	return cmn.DefaultUploadTimeoutSeconds * time.Second
}

func checkOK(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cmn.NewTransportError(resp.Request.URL.String(), err)
	}
	text := strings.TrimRight(string(body), "\n")
	if !strings.HasPrefix(text, "OK") {
		return cmn.NewRemoteError(text)
	}
	return nil
}

// progressReader wraps a file reader, emitting an EventUpload on every
// Read call the way the original client's file-like wrapper invoked a
// callback on every chunk the urllib request body reader pulled from it.
type progressReader struct {
	r        io.Reader
	position int64
	total    int64
	node     string
	filename string
	url      string
	progress cmn.ProgressFunc
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.position += int64(n)
		p.progress(cmn.Event{
			Kind:      cmn.EventUpload,
			Node:      p.node,
			URL:       p.url,
			Filename:  p.filename,
			Position:  p.position,
			Total:     p.total,
			Blocksize: int64(n),
		})
	}
	return n, err
}
