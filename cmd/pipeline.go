package cmd

import (
	"fmt"
	"strings"
)

// executePipeline runs the pipeline steps that follow the first occurrence
// of startStep, which the calling command has already executed.
func executePipeline(ls *liveSession, startStep rune) error {
	if pipeline == "" {
		return nil
	}

	steps := []rune(strings.ToLower(pipeline))

	// Find the starting position in the pipeline
	startIndex := -1
	for i, step := range steps {
		if step == startStep {
			startIndex = i
			break
		}
	}

	if startIndex == -1 {
		return fmt.Errorf("step '%c' not found in pipeline '%s'", startStep, pipeline)
	}

	return runSteps(ls, steps[startIndex+1:])
}

func runSteps(ls *liveSession, steps []rune) error {
	for i, step := range steps {
		fmt.Printf("Pipeline: executing step %d/%d: '%c'...\n", i+1, len(steps), step)

		switch step {
		case 'r', 'R':
			path, err := ls.record()
			if err != nil {
				return fmt.Errorf("pipeline record failed: %w", err)
			}
			fmt.Printf("Pipeline: saved %s\n", path)

		case 'p', 'P':
			if err := ls.play(); err != nil {
				return fmt.Errorf("pipeline play failed: %w", err)
			}

		default:
			return fmt.Errorf("unknown pipeline step: '%c' (valid: r=record, p=play)", step)
		}
	}

	return nil
}

func validatePipeline() error {
	if pipeline == "" {
		return nil
	}

	validSteps := map[rune]bool{
		'r': true, // record
		'p': true, // play
	}

	steps := []rune(strings.ToLower(pipeline))
	for _, step := range steps {
		if !validSteps[step] {
			return fmt.Errorf("invalid pipeline step: '%c' (valid: r=record, p=play)", step)
		}
	}

	return nil
}
