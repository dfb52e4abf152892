package model

import "testing"

func TestJobStatusPredicates(t *testing.T) {
	tests := []struct {
		status    JobStatus
		terminal  bool
		canCancel bool
		canRetry  bool
	}{
		{JobStatusQueued, false, true, false},
		{JobStatusRunning, false, false, false},
		{JobStatusCompleted, true, false, false},
		{JobStatusFailed, true, false, true},
		{JobStatusCancelled, true, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			job := &Job{Status: tt.status}
			if got := job.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, 期望 %v", got, tt.terminal)
			}
			if got := job.CanCancel(); got != tt.canCancel {
				t.Errorf("CanCancel() = %v, 期望 %v", got, tt.canCancel)
			}
			if got := job.CanRetry(); got != tt.canRetry {
				t.Errorf("CanRetry() = %v, 期望 %v", got, tt.canRetry)
			}
		})
	}
}

func TestDefaultSettingsCoverRecognizedKeys(t *testing.T) {
	defaults := DefaultSettings()

	if defaults[SettingMaxConcurrent] != 3 {
		t.Errorf("并发上限默认值 = %v, 期望 3", defaults[SettingMaxConcurrent])
	}
	if defaults[SettingVideoQuality] != "best" {
		t.Errorf("画质默认值 = %v, 期望 best", defaults[SettingVideoQuality])
	}
	if defaults[SettingExtractAudio] != false {
		t.Errorf("提取音频默认值 = %v, 期望 false", defaults[SettingExtractAudio])
	}
	if defaults[SettingTheme] != "dark" {
		t.Errorf("主题默认值 = %v, 期望 dark", defaults[SettingTheme])
	}
}
