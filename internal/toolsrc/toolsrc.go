// Package toolsrc analyzes generated tool source: tool naming, argument
// schema extraction, and the small conventions shared by the verifier
// and synthesizer.
package toolsrc

import (
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"strings"
	"unicode"
)

// nameDirective lets a tool declare its registry name explicitly.
// Example: //tool:name calc_rsi
var nameDirective = regexp.MustCompile(`(?m)^\s*//\s*tool:name\s+([A-Za-z_][A-Za-z0-9_]*)`)

// reservedFuncs are part of the execution protocol, not the tool identity.
var reservedFuncs = map[string]bool{
	"Run": true, "SelfTest": true, "main": true, "init": true,
}

// ExtractFunctionName derives the tool name from source. The name
// directive wins; otherwise the first non-protocol top-level function,
// snake-cased. Empty when neither exists.
func ExtractFunctionName(src string) string {
	if m := nameDirective.FindStringSubmatch(src); m != nil {
		return m[1]
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "tool.go", src, parser.ParseComments)
	if err != nil {
		return ""
	}
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil || reservedFuncs[fn.Name.Name] {
			continue
		}
		return SnakeCase(fn.Name.Name)
	}
	return ""
}

// ExtractArgsSchema reads the tool's argument struct (any top-level
// struct whose name contains "args", case-insensitive) and maps each
// field to a coarse type name: list, int, float, string, or bool.
// Field names come from json tags when present.
func ExtractArgsSchema(src string) map[string]string {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "tool.go", src, 0)
	if err != nil {
		return nil
	}

	var structType *ast.StructType
	ast.Inspect(file, func(n ast.Node) bool {
		if structType != nil {
			return false
		}
		ts, ok := n.(*ast.TypeSpec)
		if !ok {
			return true
		}
		if !strings.Contains(strings.ToLower(ts.Name.Name), "args") {
			return true
		}
		if st, ok := ts.Type.(*ast.StructType); ok {
			structType = st
			return false
		}
		return true
	})
	if structType == nil {
		return nil
	}

	schema := make(map[string]string)
	for _, field := range structType.Fields.List {
		typ := coarseType(field.Type)
		name := ""
		if field.Tag != nil {
			name = jsonTagName(field.Tag.Value)
		}
		if name == "" && len(field.Names) > 0 {
			name = SnakeCase(field.Names[0].Name)
		}
		if name != "" && name != "-" {
			schema[name] = typ
		}
	}
	return schema
}

func coarseType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.ArrayType:
		return "list"
	case *ast.Ident:
		switch t.Name {
		case "int", "int64", "int32":
			return "int"
		case "float64", "float32":
			return "float"
		case "bool":
			return "bool"
		case "string":
			return "string"
		}
	case *ast.StarExpr:
		return coarseType(t.X)
	case *ast.MapType:
		return "dict"
	}
	return "any"
}

func jsonTagName(tag string) string {
	tag = strings.Trim(tag, "`")
	for _, part := range strings.Fields(tag) {
		if !strings.HasPrefix(part, `json:"`) {
			continue
		}
		val := strings.TrimSuffix(strings.TrimPrefix(part, `json:"`), `"`)
		if i := strings.Index(val, ","); i >= 0 {
			val = val[:i]
		}
		return val
	}
	return ""
}

// SnakeCase converts CamelCase identifiers to snake_case.
func SnakeCase(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (!unicode.IsUpper(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
