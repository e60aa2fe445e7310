package coordinator

import (
	"time"

	"github.com/TradingApplication/catalyst-trading-system/internal/newsmodel"
)

// CycleView is the live-cycle projection returned by GetCurrentCycle:
// stage counters and elapsed time, without exposing the coordinator's
// internal locks.
type CycleView struct {
	CycleID      string               `json:"cycleId"`
	Mode         newsmodel.CycleMode  `json:"mode"`
	Status       newsmodel.CycleStatus `json:"status"`
	CurrentStage newsmodel.Stage      `json:"currentStage,omitempty"`
	StartedAt    time.Time            `json:"startedAt"`
	ElapsedMS    int64                `json:"elapsedMs"`
	FailureReason string              `json:"failureReason,omitempty"`
	Stages       []newsmodel.StageRecord `json:"stages"`

	NewsCollected      int `json:"newsCollected"`
	CandidatesSelected int `json:"candidatesSelected"`
	PatternsAnalyzed   int `json:"patternsAnalyzed"`
	SignalsGenerated   int `json:"signalsGenerated"`
	TradesExecuted     int `json:"tradesExecuted"`
}

func viewFromCycle(c *newsmodel.TradingCycle) *CycleView {
	return &CycleView{
		CycleID:            c.CycleID,
		Mode:                c.Mode,
		Status:              c.Status,
		CurrentStage:        c.CurrentStage(),
		StartedAt:           c.StartedAt,
		ElapsedMS:           time.Since(c.StartedAt).Milliseconds(),
		FailureReason:       c.FailureReason,
		Stages:              c.Stages,
		NewsCollected:       c.NewsCollected,
		CandidatesSelected:  c.CandidatesSelected,
		PatternsAnalyzed:    c.PatternsAnalyzed,
		SignalsGenerated:    c.SignalsGenerated,
		TradesExecuted:      c.TradesExecuted,
	}
}
