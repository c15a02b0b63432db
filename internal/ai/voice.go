package ai

import (
	"math"
	"strings"
)

const (
	// idealMinWPM / idealMaxWPM は聞き取りやすい話速の範囲。
	idealMinWPM = 120.0
	idealMaxWPM = 160.0
	// paceTolerance は理想範囲から外れてスコアが0になるまでの幅（wpm）。
	paceTolerance = 80.0
	// longPause は長い沈黙とみなす単語間の間隔（秒）。
	longPause = 2.0
)

// fillerWords はフィラーとして数える単語。
var fillerWords = map[string]bool{
	"um": true, "umm": true, "uh": true, "uhh": true, "er": true, "ah": true,
	"hmm": true, "like": true, "basically": true, "actually": true, "literally": true,
}

// VoiceMetrics は単語タイミングから算出した発話指標。
type VoiceMetrics struct {
	WordsPerMinute  float64
	FillerRate      float64 // フィラー語の割合
	PausesPerMinute float64 // 長い沈黙の頻度
	AvgConfidence   float64 // プロバイダの単語信頼度の平均。不明な場合は0

	// Clarity / Confidence はカテゴリ補正に使う[0,1]のシグナル。
	Clarity    float64
	Confidence float64
}

// ComputeVoiceMetrics は文字起こしの単語タイミングから発話指標を算出する。
// 単語タイミングがない場合はnilを返す。
func ComputeVoiceMetrics(t *Transcript) *VoiceMetrics {
	if t == nil || len(t.Words) == 0 {
		return nil
	}

	words := t.Words
	duration := words[len(words)-1].End - words[0].Start
	if t.Duration > duration {
		duration = t.Duration
	}
	if duration <= 0 {
		return nil
	}
	minutes := duration / 60

	var fillers, pauses int
	var confSum float64
	var confCount int
	for i, w := range words {
		if fillerWords[normalizeWord(w.Text)] {
			fillers++
		}
		if i > 0 && w.Start-words[i-1].End >= longPause {
			pauses++
		}
		if w.Confidence > 0 {
			confSum += w.Confidence
			confCount++
		}
	}

	m := &VoiceMetrics{
		WordsPerMinute:  float64(len(words)) / minutes,
		FillerRate:      float64(fillers) / float64(len(words)),
		PausesPerMinute: float64(pauses) / minutes,
	}
	if confCount > 0 {
		m.AvgConfidence = confSum / float64(confCount)
	}

	pace := paceScore(m.WordsPerMinute)
	fluency := Clamp01(1 - m.FillerRate*4)
	steadiness := Clamp01(1 - m.PausesPerMinute/6)

	if m.AvgConfidence > 0 {
		m.Clarity = Clamp01(0.4*pace + 0.3*fluency + 0.3*m.AvgConfidence)
	} else {
		m.Clarity = Clamp01(0.55*pace + 0.45*fluency)
	}
	m.Confidence = Clamp01(0.5*fluency + 0.3*steadiness + 0.2*pace)

	return m
}

// paceScore は話速が理想範囲にあれば1、範囲から離れるほど0に近づくスコアを返す。
func paceScore(wpm float64) float64 {
	switch {
	case wpm < idealMinWPM:
		return Clamp01(1 - (idealMinWPM-wpm)/paceTolerance)
	case wpm > idealMaxWPM:
		return Clamp01(1 - (wpm-idealMaxWPM)/paceTolerance)
	}
	return 1
}

func normalizeWord(s string) string {
	return strings.ToLower(strings.Trim(s, ".,!?;:\"'"))
}

// Clamp01 は値を[0,1]に収める。NaNは0として扱う。
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
