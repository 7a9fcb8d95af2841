package apiserver

import (
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/riskscan/scan-worker/internal/store/model"
)

type ProbeReply struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	code   int
}

type ErrorReply struct {
	Error string `json:"error"`
	code  int
}

type ScanStatusReply struct {
	ScanID        string     `json:"scanId"`
	State         string     `json:"state"`
	Progress      int        `json:"progress"`
	CurrentModule string     `json:"currentModule,omitempty"`
	TotalFindings int        `json:"totalFindings"`
	MaxSeverity   string     `json:"maxSeverity,omitempty"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

func NewScanStatusReply(st *model.ScanStatus) ScanStatusReply {
	return ScanStatusReply{
		ScanID:        st.ScanID,
		State:         st.State,
		Progress:      st.Progress,
		CurrentModule: st.CurrentModule,
		TotalFindings: st.TotalFindings,
		MaxSeverity:   st.MaxSeverity,
		ErrorMessage:  st.ErrorMessage,
		StartedAt:     st.StartedAt,
		CompletedAt:   st.CompletedAt,
	}
}

func (p ProbeReply) Render(w http.ResponseWriter, r *http.Request) error {
	if p.code != 0 {
		render.Status(r, p.code)
	}
	return nil
}

func (e ErrorReply) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.code)
	return nil
}

func (s ScanStatusReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}
