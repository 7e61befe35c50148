package main

import (
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Report is the CBOR benchmark record written by -report.
type Report struct {
	Scenario   string
	Engine     string
	Parallel   int
	Runs       int64
	ElapsedSec float64
	RunsPerSec float64
	GFLOPS     float64
	Timestamp  time.Time
}

func writeReport(path string, rep Report) error {
	data, err := cbor.Marshal(rep)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readReport(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, err
	}
	var rep Report
	if err := cbor.Unmarshal(data, &rep); err != nil {
		return Report{}, err
	}
	return rep, nil
}
