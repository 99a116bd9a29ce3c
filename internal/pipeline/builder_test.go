package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name string
		ops  OperationSet
		want []string
	}{
		{
			name: "orientation only",
			ops:  OperationSet{},
			want: []string{"in", "-auto-orient", "out"},
		},
		{
			name: "resize only",
			ops:  OperationSet{Resize: "300x200"},
			want: []string{"in", "-auto-orient", "-resize", "300x200", "out"},
		},
		{
			name: "gravity only",
			ops:  OperationSet{Gravity: "Center"},
			want: []string{"in", "-auto-orient", "-gravity", "Center", "out"},
		},
		{
			name: "crop only",
			ops:  OperationSet{Crop: "10x10+1+1"},
			want: []string{"in", "-auto-orient", "-crop", "10x10+1+1", "+repage", "out"},
		},
		{
			name: "all operations in fixed order",
			ops:  OperationSet{Resize: "300x200", Crop: "300x200+10+10", Gravity: "Center"},
			want: []string{
				"in", "-auto-orient",
				"-resize", "300x200",
				"-gravity", "Center",
				"-crop", "300x200+10+10", "+repage",
				"out",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildArgs(tt.ops, "in", "out"))
		})
	}
}

func TestBuildArgsFromDirective(t *testing.T) {
	args := BuildArgs(ParseDirective("300x200-crop300x200+10+10-Center"), InputPlaceholder, OutputPlaceholder)
	assert.Equal(t, []string{
		InputPlaceholder, "-auto-orient",
		"-resize", "300x200",
		"-gravity", "Center",
		"-crop", "300x200+10+10", "+repage",
		OutputPlaceholder,
	}, args)

	assert.Equal(t,
		[]string{InputPlaceholder, "-auto-orient", OutputPlaceholder},
		BuildArgs(ParseDirective("foo-bar-baz"), InputPlaceholder, OutputPlaceholder),
	)
}
