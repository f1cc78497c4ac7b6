package broker

import (
	"encoding/json"
	"fmt"
)

// StructuredResponse is a handler's reply to a forwarded request, fully
// resolved (defaults applied): status code defaults to 200, headers default
// to an empty map, body defaults to empty.
type StructuredResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       string
}

// wireResponse is the JSON shape handlers send; fields are optional so the
// zero value can be distinguished from an explicit 0/empty.
type wireResponse struct {
	StatusCode *int              `json:"statusCode,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
}

func (w wireResponse) resolve() StructuredResponse {
	status := 200
	if w.StatusCode != nil {
		status = *w.StatusCode
	}
	headers := w.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	return StructuredResponse{StatusCode: status, Headers: headers, Body: w.Body}
}

// CapturedRequest is the sanitised HTTP request forwarded to a handler.
type CapturedRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// ingressKind is the tag of an ingress frame, decoded up front per the
// "decode to a tagged variant, dispatch on the tag" design note (spec §9).
type ingressKind int

const (
	ingressInvalid ingressKind = iota
	ingressRegistration
	ingressResponse
	ingressDashboardAttach
)

type ingressFrame struct {
	kind      ingressKind
	slug      string
	requestID string
	response  StructuredResponse
}

// rawIngressFrame mirrors every field any ingress variant might carry;
// the variant is discriminated by which fields are present, not by an
// explicit tag, per spec §4.4.
type rawIngressFrame struct {
	Type      string        `json:"type"`
	Slug      string        `json:"slug"`
	RequestID string        `json:"requestId"`
	Response  *wireResponse `json:"response"`
}

func decodeIngress(data []byte) ingressFrame {
	var raw rawIngressFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return ingressFrame{kind: ingressInvalid}
	}

	switch {
	case raw.Type == "status-client":
		return ingressFrame{kind: ingressDashboardAttach}
	case raw.RequestID != "" && raw.Response != nil:
		return ingressFrame{
			kind:      ingressResponse,
			slug:      raw.Slug,
			requestID: raw.RequestID,
			response:  raw.Response.resolve(),
		}
	case raw.RequestID == "" && raw.Type == "":
		return ingressFrame{kind: ingressRegistration, slug: raw.Slug}
	default:
		return ingressFrame{kind: ingressInvalid}
	}
}

// Egress frame constructors. Each returns the marshalled bytes ready to
// hand to a session writer.

func buildRegisteredAck(slug string) ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Slug string `json:"slug"`
	}{Type: "registered", Slug: slug})
}

func buildForwardedRequest(slug, requestID string, req CapturedRequest) ([]byte, error) {
	return json.Marshal(struct {
		Slug      string `json:"slug"`
		RequestID string `json:"requestId"`
		Request   struct {
			Method  string            `json:"method"`
			URL     string            `json:"url"`
			Headers map[string]string `json:"headers"`
			Body    string            `json:"body"`
		} `json:"request"`
	}{
		Slug:      slug,
		RequestID: requestID,
		Request: struct {
			Method  string            `json:"method"`
			URL     string            `json:"url"`
			Headers map[string]string `json:"headers"`
			Body    string            `json:"body"`
		}{Method: req.Method, URL: req.URL, Headers: req.Headers, Body: req.Body},
	})
}

func buildErrorHint(msg string) ([]byte, error) {
	return json.Marshal(struct {
		Error string `json:"error"`
	}{Error: msg})
}

func buildLogFanout(severity, message string, ts int64) ([]byte, error) {
	return json.Marshal(struct {
		Type      string `json:"type"`
		Severity  string `json:"severity"`
		Message   string `json:"message"`
		Timestamp int64  `json:"timestamp"`
	}{Type: "log", Severity: severity, Message: message, Timestamp: ts})
}

func buildStatsFanout(stats Stats) ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Stats Stats  `json:"stats"`
	}{Type: "stats", Stats: stats})
}

var errMalformedFrame = fmt.Errorf("Invalid message format")
