package http

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"go.etcd.io/etcd/raft/v3/raftpb"

	"widerow/pkg/dberrors"
	"widerow/pkg/rpc"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	row, err := rowParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	req, err := rpc.DecodePage(row, r.URL.Query())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.PageSize > maxPageSize {
		s.writeError(w, fmt.Errorf("%w: count above %d", dberrors.ErrInvalidArgument, maxPageSize))
		return
	}

	res, err := s.fam.FetchPage(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	page, ok := res.Get()
	if s.metrics != nil {
		s.metrics.ObservePage(row, len(page), !ok)
	}
	if !ok {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("row not found"))
		return
	}
	s.writeJSON(w, http.StatusOK, NewColumnsResponse(page))
}

func (s *Server) handleGetRow(w http.ResponseWriter, r *http.Request) {
	row, err := rowParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sl, err := rpc.DecodeSlice(r.URL.Query())
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.fam.GetRow(r.Context(), row, sl)
	if err != nil {
		s.writeError(w, err)
		return
	}
	page, ok := res.Get()
	if !ok {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("row not found"))
		return
	}
	s.writeJSON(w, http.StatusOK, NewColumnsResponse(page))
}

// handleRowExists has no body; the JSON content type still marks its 404
// as a missing row rather than an unknown route.
func (s *Server) handleRowExists(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", contentTypeJSON)
	row, err := rowParam(r)
	if err != nil {
		w.WriteHeader(statusOf(err))
		return
	}
	ok, err := s.fam.RowExists(r.Context(), row)
	switch {
	case err != nil:
		w.WriteHeader(statusOf(err))
	case !ok:
		w.WriteHeader(http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	row, err := rowParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sl, err := rpc.DecodeSlice(r.URL.Query())
	if err != nil {
		s.writeError(w, err)
		return
	}

	n, err := s.fam.ColumnCount(r.Context(), row, sl)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewCountResponse(n))
}

func (s *Server) handleGetColumn(w http.ResponseWriter, r *http.Request) {
	row, err := rowParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	column, err := pathParam(r, "column")
	if err != nil {
		s.writeError(w, err)
		return
	}

	v, ok, err := s.fam.GetColumn(r.Context(), row, []byte(column))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("column not found"))
		return
	}
	s.writeJSON(w, http.StatusOK, NewValueResponse(v))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if s.redirectLeader(w, r) {
		return
	}
	row, err := rowParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body UpdateRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.fam.Update(r.Context(), row, body.Columns); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleDeleteRow(w http.ResponseWriter, r *http.Request) {
	if s.redirectLeader(w, r) {
		return
	}
	row, err := rowParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.fam.DeleteRow(r.Context(), row); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleDeleteColumns(w http.ResponseWriter, r *http.Request) {
	if s.redirectLeader(w, r) {
		return
	}
	row, err := rowParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body DeleteColumnsRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.fam.DeleteColumns(r.Context(), row, body.Names); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleIncrement(w http.ResponseWriter, r *http.Request) {
	if s.redirectLeader(w, r) {
		return
	}
	row, err := rowParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	column, err := pathParam(r, "column")
	if err != nil {
		s.writeError(w, err)
		return
	}

	delta := int64(1)
	if v := r.URL.Query().Get(rpc.ParamDelta); v != "" {
		if delta, err = strconv.ParseInt(v, 10, 64); err != nil {
			s.writeError(w, fmt.Errorf("%w: %s=%q", dberrors.ErrInvalidArgument, rpc.ParamDelta, v))
			return
		}
	}

	n, err := s.fam.Increment(r.Context(), row, []byte(column), delta)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewCounterResponse(n))
}

func (s *Server) handleRaft(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	var msg raftpb.Message
	if err := msg.Unmarshal(body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("decode raft message: "+err.Error()))
		return
	}
	if err := s.node.Handle(r.Context(), msg); err != nil {
		slog.Warn("failed to step raft message", "from", msg.From, "type", msg.Type, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}

	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}
