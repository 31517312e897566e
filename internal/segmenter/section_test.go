package segmenter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		line  string
		label Label
		ok    bool
	}{
		{"Abstract", Abstract, true},
		{"ABSTRACT:", Abstract, true},
		{"1. Introduction", Introduction, true},
		{"1 Introduction", Introduction, true},
		{"IV. Methods", Methods, true},
		{"2.1 Materials and Methods", Methods, true},
		{"Materials & Methods", Methods, true},
		{"Methodology", Methods, true},
		{"Experimental Setup", Methods, true},
		{"Results and Discussion", Results, true},
		{"Experiments", Results, true},
		{"Discussion", Discussion, true},
		{"Conclusions", Conclusion, true},
		{"Acknowledgements", Acknowledgments, true},
		{"Acknowledgments", Acknowledgments, true},
		{"References", References, true},
		{"Bibliography", References, true},
		{"Literature Cited", References, true},
		{"Related Work", RelatedWork, true},
		{"Background", RelatedWork, true},
		{"Appendix A", Appendix, true},
		{"Supplementary Material", Appendix, true},
		{"  results  ", Results, true},
		{"ab", "", false},
		{"Results show that the network generalizes well across all macaque species.", "", false},
		{"Methods were evaluated on three datasets", "", false},
		{"The introduction of deep learning", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			label, ok := Classify(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.label, label)
		})
	}
}

func TestSections(t *testing.T) {
	text := "MacaquePose\nA dataset.\nAbstract\nWe study pose.\nMethods\nResNet-50.\nMethods\nMore detail.\nReferences\n[1] Someone."
	got := sections(text)

	labels := make([]Label, len(got))
	for i, s := range got {
		labels[i] = s.label
	}
	assert.Equal(t, []Label{Body, Abstract, Methods, References}, labels)

	// spans tile the text
	assert.Equal(t, 0, got[0].start)
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1].end, got[i].start)
	}
	assert.Equal(t, len(text), got[len(got)-1].end)
	assert.Contains(t, text[got[2].start:got[2].end], "More detail.")
}

func TestSections_NoHeadingIsBody(t *testing.T) {
	got := sections("just some text\nwithout structure")
	assert.Len(t, got, 1)
	assert.Equal(t, Body, got[0].label)
}
