// Package httpclient issues the load traffic. Every call is timed, classified
// and recorded into the metric recorder before the result is returned, and no
// network or HTTP-level failure is ever returned as a Go error.
package httpclient

import (
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

// DefaultTimeout is used when neither the request nor the client sets one.
const DefaultTimeout = 30 * time.Second

// Options configures a Client.
type Options struct {
	Timeout         time.Duration
	MaxConnsPerHost int
	UserAgent       string
	// Tags are added to every sample.
	Tags map[string]string
}

// Request describes one HTTP call.
type Request struct {
	Method  string
	URL     string
	Body    []byte
	Headers map[string]string
	// Timeout overrides the client timeout when > 0.
	Timeout time.Duration
	// Tags are added to the samples of this call, e.g. name=<step>.
	Tags map[string]string
}

// Response is the outcome of one call. Status is 0 on transport failure.
type Response struct {
	Status   int
	Body     []byte
	Headers  map[string]string
	Duration time.Duration
	Err      error
	ErrKind  types.ErrorKind
}

// Failed reports whether the call counts as failed for http_req_failed.
func (r *Response) Failed() bool {
	return r.Err != nil || r.Status >= 400
}

// Client wraps a shared fasthttp.Client.
type Client struct {
	client   *fasthttp.Client
	recorder *metrics.Recorder
	builtin  *metrics.BuiltinMetrics
	timeout  time.Duration
	tags     map[string]string
}

// New creates a Client that records into recorder.
func New(recorder *metrics.Recorder, builtin *metrics.BuiltinMetrics, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxConnsPerHost <= 0 {
		opts.MaxConnsPerHost = 1000
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "load-engine/1.0"
	}
	return &Client{
		client: &fasthttp.Client{
			Name:                   opts.UserAgent,
			MaxConnsPerHost:        opts.MaxConnsPerHost,
			MaxIdleConnDuration:    90 * time.Second,
			DisablePathNormalizing: true,
		},
		recorder: recorder,
		builtin:  builtin,
		timeout:  opts.Timeout,
		tags:     opts.Tags,
	}
}

// Execute performs the request. The call always completes, at the latest when
// its own timeout expires, and its samples are recorded before returning.
func (c *Client) Execute(r Request) *Response {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	buildRequest(req, r)
	sent := len(req.Header.Header()) + len(r.Body)

	start := time.Now()
	err := c.client.DoTimeout(req, resp, timeout)
	elapsed := time.Since(start)

	out := &Response{Duration: elapsed}
	received := 0
	if err != nil {
		out.Err = err
		out.ErrKind = Classify(err)
	} else {
		out.Status = resp.StatusCode()
		out.Body = append([]byte(nil), resp.Body()...)
		out.Headers = make(map[string]string)
		resp.Header.VisitAll(func(k, v []byte) {
			out.Headers[string(k)] = string(v)
		})
		received = len(resp.Header.Header()) + len(resp.Body())
	}

	c.record(r, out, start, sent, received)
	return out
}

func buildRequest(req *fasthttp.Request, r Request) {
	method := r.Method
	if method == "" {
		method = fasthttp.MethodGet
	}
	req.Header.SetMethod(method)
	req.SetRequestURI(r.URL)
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	if len(r.Body) > 0 {
		if len(req.Header.ContentType()) == 0 {
			req.Header.SetContentType("application/json")
		}
		req.SetBody(r.Body)
	}
}

func (c *Client) record(r Request, out *Response, at time.Time, sent, received int) {
	tags := make(map[string]string, len(c.tags)+len(r.Tags)+3)
	for k, v := range c.tags {
		tags[k] = v
	}
	for k, v := range r.Tags {
		tags[k] = v
	}
	tags["method"] = r.Method
	if tags["method"] == "" {
		tags["method"] = fasthttp.MethodGet
	}
	tags["status"] = strconv.Itoa(out.Status)
	if out.ErrKind != "" {
		tags["error_kind"] = string(out.ErrKind)
	}

	failed := 0.0
	if out.Failed() {
		failed = 1
	}
	ms := float64(out.Duration) / float64(time.Millisecond)

	c.recorder.Record(metrics.ConnectedSamples{
		Time: at,
		Tags: tags,
		Samples: []metrics.Sample{
			{Metric: c.builtin.HTTPReqs, Time: at, Value: 1, Tags: tags},
			{Metric: c.builtin.HTTPReqDuration, Time: at, Value: ms, Tags: tags},
			{Metric: c.builtin.HTTPReqFailed, Time: at, Value: failed, Tags: tags},
			{Metric: c.builtin.DataSent, Time: at, Value: float64(sent), Tags: tags},
			{Metric: c.builtin.DataReceived, Time: at, Value: float64(received), Tags: tags},
		},
	})
}
