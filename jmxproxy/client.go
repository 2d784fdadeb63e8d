package jmxproxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sbraverman/pytomcat/cmn"
)

// Client talks to a single node's /manager/jmxproxy/ servlet: query, get
// and invoke, each a plain GET whose query-string parameters name the
// operation and its arguments, answered with a plain-text response.
type Client struct {
	Host     string
	Port     int
	User     string
	Password string
	Timeout  time.Duration

	httpClient *http.Client
}

// NewClient builds a jmxproxy Client with the default request timeout.
func NewClient(host string, port int, user, password string) *Client {
	return &Client{
		Host:     host,
		Port:     port,
		User:     user,
		Password: password,
		Timeout:  cmn.DefaultTimeoutSeconds * time.Second,
		httpClient: &http.Client{
			Timeout: cmn.DefaultTimeoutSeconds * time.Second,
		},
	}
}

func (c *Client) baseURL() string {
	return fmt.Sprintf("http://%s:%d/manager/jmxproxy/", c.Host, c.Port)
}

// doGet issues the request and returns the raw body, classifying
// transport failures and non-OK bodies into *cmn.Error.
func (c *Client) doGet(ctx context.Context, params map[string]string) (string, error) {
	url := c.baseURL() + "?" + encodeQuery(params)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", cmn.NewTransportError(url, err)
	}
	if c.User != "" {
		req.SetBasicAuth(c.User, c.Password)
	}
	client := c.httpClient
	if client == nil {
		client = &http.Client{Timeout: c.Timeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", cmn.NewTransportError(url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", cmn.NewTransportError(url, err)
	}
	text := string(body)
	if !strings.HasPrefix(text, "OK") {
		return "", cmn.NewRemoteError(strings.TrimRight(text, "\n"))
	}
	return text, nil
}

// Query runs a search against the given object-name pattern (e.g.
// "Catalina:type=Manager,*") and returns the matching beans, with
// objectName injected into any bean whose properties lack it (spec §4.1).
func (c *Client) Query(ctx context.Context, pattern string) ([]Bean, error) {
	body, err := c.doGet(ctx, map[string]string{"qry": pattern})
	if err != nil {
		return nil, err
	}
	beans, err := ParseSearchResults(body)
	if err != nil {
		return nil, err
	}
	for i := range beans {
		if _, ok := beans[i].Props["objectName"]; !ok {
			beans[i].Props["objectName"] = cmn.Str(beans[i].ID)
		}
	}
	return beans, nil
}

// Get reads a single bean attribute, optionally indexing into it by key
// (for composite/mapped attributes).
func (c *Client) Get(ctx context.Context, bean, property string, key string) (cmn.Value, error) {
	q := map[string]string{"get": bean, "att": property}
	if key != "" {
		q["key"] = key
	}
	body, err := c.doGet(ctx, q)
	if err != nil {
		return cmn.Value{}, err
	}
	return ParseGetResult(body)
}

// Invoke calls an MBean operation with the given string parameters,
// joined by commas on the wire the way JMXProxyServlet expects.
func (c *Client) Invoke(ctx context.Context, bean, op string, params ...string) (cmn.Value, error) {
	q := map[string]string{"invoke": bean, "op": op, "ps": strings.Join(params, ",")}
	body, err := c.doGet(ctx, q)
	if err != nil {
		return cmn.Value{}, err
	}
	return ParseInvokeResult(body)
}

func encodeQuery(params map[string]string) string {
	var b strings.Builder
	first := true
	for k, v := range params {
		if !first {
			b.WriteByte('&')
		}
		first = false
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(urlEscape(v))
	}
	return b.String()
}

// urlEscape is a minimal query-value escaper; jmxproxy parameters are
// bean/attribute names and operation signatures, never arbitrary bytes, so
// only the handful of characters that the wire format itself assigns
// meaning to need escaping here.
func urlEscape(s string) string {
	replacer := strings.NewReplacer(" ", "%20", "\t", "%09", "\n", "%0A",
		"%", "%25", "&", "%26", "#", "%23", "+", "%2B")
	return replacer.Replace(s)
}
