package pipeline

// Placeholders stand in for the input and output locations until a
// Converter knows where the scratch files live.
const (
	InputPlaceholder  = "{input}"
	OutputPlaceholder = "{output}"
)

// BuildArgs turns ops into a convert argument vector. Orientation is always
// normalized first; the remaining order is resize, gravity, crop. Gravity is
// a setting that only affects operators after it, so it has to precede
// -crop to anchor the crop region.
func BuildArgs(ops OperationSet, input, output string) []string {
	args := make([]string, 0, 10)
	args = append(args, input, "-auto-orient")

	if ops.Resize != "" {
		args = append(args, "-resize", ops.Resize)
	}
	if ops.Gravity != "" {
		args = append(args, "-gravity", ops.Gravity)
	}
	if ops.Crop != "" {
		args = append(args, "-crop", ops.Crop, "+repage")
	}

	return append(args, output)
}
