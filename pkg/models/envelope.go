package models

// Envelope is the canonical S2S response shape.
type Envelope struct {
	OK        bool        `json:"ok"`
	Service   string      `json:"service"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"requestId"`
}

// ErrorData is the Data payload of an error envelope.
type ErrorData struct {
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// OKEnvelope builds a success envelope.
func OKEnvelope(service string, data interface{}, requestID string) Envelope {
	return Envelope{OK: true, Service: service, Data: data, RequestID: requestID}
}

// ErrEnvelope builds an error envelope.
func ErrEnvelope(service string, status int, detail, requestID string) Envelope {
	return Envelope{
		OK:        false,
		Service:   service,
		Data:      ErrorData{Status: status, Detail: detail},
		RequestID: requestID,
	}
}
