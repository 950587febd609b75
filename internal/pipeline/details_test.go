package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/takeoff-cli/internal/inference"
	"github.com/sells-group/takeoff-cli/internal/model"
)

func TestDetailCandidates(t *testing.T) {
	scans := []model.PageScanResult{
		{PageNumber: 1, Relevant: true, PageType: "Striping Plan"},
		{PageNumber: 2, Relevant: true, PageType: "Standard Details"},
		{PageNumber: 3, Relevant: false, PageType: "Details"},
		{PageNumber: 4, Relevant: true, Summary: "Stop bar detail and crosswalk layout"},
	}
	got := DetailCandidates(scans)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].PageNumber)
	assert.Equal(t, 4, got[1].PageNumber)
}

func TestExtractDetailSpecs_FirstWriterWins(t *testing.T) {
	doc := newFakeDoc(12)
	inf := newFakeInfer().on(inference.PassDetails, func(page int, _ inference.Request) (string, error) {
		switch page {
		case 8:
			return `{"details": [
				{"detail_number": "3", "type_designation": "Type A Crosswalk", "dimensions": "24 in bars", "material": "Thermoplastic"},
				{"detail_number": "", "type_designation": ""}
			]}`, nil
		case 11:
			return `{"details": [{"type_designation": "type a crosswalk", "dimensions": "12 in bars"},
				{"detail_number": "5", "dimensions": "6 in", "thickness": "90 mil"}]}`, nil
		}
		return "", fatal("unreadable")
	})

	candidates := []model.PageScanResult{{PageNumber: 8}, {PageNumber: 10}, {PageNumber: 11}}
	specs, usage := ExtractDetailSpecs(context.Background(), testStage(inf, doc), candidates)

	require.Len(t, specs, 2)
	a := specs["type a crosswalk"]
	assert.Equal(t, "24 in bars", a.Dimensions)
	assert.Equal(t, 8, a.SourcePage)
	assert.Equal(t, "90 mil", specs["5"].Thickness)
	assert.Equal(t, 11, specs["5"].SourcePage)
	assert.Equal(t, 2, usage.Calls)
}

func TestExtractDetailSpecs_NoCandidates(t *testing.T) {
	inf := newFakeInfer()
	specs, usage := ExtractDetailSpecs(context.Background(), testStage(inf, newFakeDoc(1)), nil)
	assert.NotNil(t, specs)
	assert.Empty(t, specs)
	assert.Zero(t, usage.Calls)
	assert.Empty(t, inf.callsFor(inference.PassDetails))
}
