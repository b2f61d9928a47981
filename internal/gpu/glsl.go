package gpu

import (
	"strconv"
	"strings"
)

// parseAttributes returns vertex inputs in declaration order.
func parseAttributes(src string) map[string]uint32 {
	attrs := make(map[string]uint32)
	for _, line := range strings.Split(stripBlockComments(src), "\n") {
		fields := declFields(line)
		if len(fields) < 3 || (fields[0] != "attribute" && fields[0] != "in") {
			continue
		}
		name, _ := splitArray(fields[2])
		if _, ok := attrs[name]; !ok {
			attrs[name] = uint32(len(attrs))
		}
	}
	return attrs
}

// DeclaredUniforms returns the uniforms declared in a GLSL source in
// declaration order. Only Name and Count are set. Comments are ignored.
func DeclaredUniforms(src string) []UniformDesc {
	var out []UniformDesc
	for _, line := range strings.Split(stripBlockComments(src), "\n") {
		fields := declFields(line)
		if len(fields) < 3 || fields[0] != "uniform" {
			continue
		}
		// skip precision qualifiers: uniform highp mat4 x;
		typ, name := fields[1], fields[2]
		if (typ == "highp" || typ == "mediump" || typ == "lowp") && len(fields) > 3 {
			name = fields[3]
		}
		name, count := splitArray(name)
		out = append(out, UniformDesc{Name: name, Count: count})
	}
	return out
}

func declFields(line string) []string {
	line = strings.TrimSpace(line)
	if i := strings.Index(line, "//"); i >= 0 {
		line = line[:i]
	}
	if i := strings.Index(line, ")"); strings.HasPrefix(line, "layout") && i >= 0 {
		line = line[i+1:]
	}
	line = strings.TrimSuffix(strings.TrimSpace(line), ";")
	return strings.Fields(line)
}

func splitArray(name string) (string, uint16) {
	open := strings.Index(name, "[")
	if open < 0 || !strings.HasSuffix(name, "]") {
		return name, 1
	}
	n, err := strconv.Atoi(name[open+1 : len(name)-1])
	if err != nil || n < 1 {
		return name[:open], 1
	}
	return name[:open], uint16(n)
}

// stripBlockComments blanks out /* */ comments, keeping line breaks.
func stripBlockComments(src string) string {
	var b strings.Builder
	for {
		start := strings.Index(src, "/*")
		if start < 0 {
			b.WriteString(src)
			return b.String()
		}
		b.WriteString(src[:start])
		end := strings.Index(src[start+2:], "*/")
		if end < 0 {
			return b.String()
		}
		comment := src[start : start+2+end+2]
		b.WriteString(strings.Repeat("\n", strings.Count(comment, "\n")))
		src = src[start+2+end+2:]
	}
}
