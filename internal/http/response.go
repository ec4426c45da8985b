package http

import "widerow/pkg/types"

type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusSuccess indicates an operation completed successfully.
	StatusSuccess Status = "success"

	// StatusError indicates an operation failed.
	StatusError Status = "error"
)

// Response represents the standard API response format.
type Response struct {
	Status  Status         `json:"status,omitempty"`
	Value   []byte         `json:"value,omitempty"`
	Columns []types.Column `json:"columns,omitempty"`
	Count   *int           `json:"count,omitempty"`
	Counter *int64         `json:"counter,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func NewOKResponse() Response {
	return Response{Status: StatusOK}
}

func NewSuccessResponse() Response {
	return Response{Status: StatusSuccess}
}

func NewValueResponse(value []byte) Response {
	return Response{Status: StatusSuccess, Value: value}
}

func NewColumnsResponse(cols []types.Column) Response {
	return Response{Status: StatusSuccess, Columns: cols}
}

func NewCountResponse(n int) Response {
	return Response{Status: StatusSuccess, Count: &n}
}

func NewCounterResponse(v int64) Response {
	return Response{Status: StatusSuccess, Counter: &v}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}

// UpdateRequest is the body of PUT /api/rows/{row}.
type UpdateRequest struct {
	Columns []types.Column `json:"columns"`
}

// DeleteColumnsRequest is the body of DELETE /api/rows/{row}/columns.
type DeleteColumnsRequest struct {
	Names [][]byte `json:"names"`
}
