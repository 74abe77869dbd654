package internal

import (
	"time"
)

// CreateTestReconstruction creates a reconstruction with two rendered steps and
// one step that failed on a missing tile
func CreateTestReconstruction(monitorID string) *Reconstruction {
	return &Reconstruction{
		ID:        "rec-" + monitorID,
		MonitorID: monitorID,
		Run: Run{
			GroupingKey:    "check-group-1",
			DurationMicros: 12_400_000,
			StartedAt:      time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC),
		},
		Steps: []StepResult{
			{StepIndex: 1, Image: CreateTestImage(1, 1280, 720)},
			{StepIndex: 2, Err: &MissingTilePayloadError{StepIndex: 2, Hashes: []string{"deadbeef"}}},
			{StepIndex: 4, Image: CreateTestImage(4, 1280, 720)},
		},
		Elapsed: 850 * time.Millisecond,
	}
}

// CreateTestReconstructionWithSteps creates a reconstruction with custom step results
func CreateTestReconstructionWithSteps(monitorID string, steps []StepResult) *Reconstruction {
	return &Reconstruction{
		ID:        "rec-" + monitorID,
		MonitorID: monitorID,
		Run: Run{
			GroupingKey:    "check-group-1",
			DurationMicros: 1_000_000,
			StartedAt:      time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC),
		},
		Steps: steps,
	}
}

// CreateTestImage creates a placeholder reconstructed image
func CreateTestImage(stepIndex, width, height int) *ReconstructedImage {
	return &ReconstructedImage{
		StepIndex: stepIndex,
		Format:    FormatJPEG,
		Width:     width,
		Height:    height,
		Data:      []byte{0xff, 0xd8, 0xff, 0xd9},
	}
}
