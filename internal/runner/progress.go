// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package runner

import "github.com/tejzpr/whisperjournal/internal/database"

// progressRanges maps a stage onto [start, end] of the 0-100 progress scale.
// Clients display start.
var progressRanges = map[string][2]int{
	database.StagePending:         {0, 0},
	database.StageQueued:          {0, 5},
	database.StageNormalizing:     {5, 15},
	database.StageTranscribing:    {15, 60},
	database.StageAwaitingReview:  {60, 60},
	database.StageAwaitingPrompts: {60, 60},
	database.StageGenerating:      {60, 90},
	database.StageWriting:         {90, 100},
	database.StageCompleted:       {100, 100},
}

// Progress returns the display progress for a stage. Failure stages report 0.
func Progress(stage string) int {
	if r, ok := progressRanges[stage]; ok {
		return r[0]
	}
	return 0
}
