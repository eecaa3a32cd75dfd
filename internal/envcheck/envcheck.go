// Package envcheck verifies the environment contract of the deployed application.
// The application reads these variables from the .env file next to the
// compose file; the deploy tool only checks that they are present.
package envcheck

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// InsecureJWTSecret is the application's built-in fallback signing secret.
const InsecureJWTSecret = "your-secret-key-change-this"

// RequiredVars lists the variables the application needs at runtime.
var RequiredVars = []string{
	"DATABASE_URL",
	"MYSQL_ROOT_PASSWORD",
	"MYSQL_DATABASE",
	"JWT_SECRET_KEY",
	"CORS_ORIGINS",
	"ALAN_API_BASE_URL",
	"ALAN_CLIENT_ID",
}

// ProblemKind classifies a contract violation.
type ProblemKind string

const (
	ProblemMissing  ProblemKind = "missing"
	ProblemInsecure ProblemKind = "insecure"
)

// Problem is a single contract violation.
type Problem struct {
	Var  string
	Kind ProblemKind
}

func (p Problem) String() string {
	return fmt.Sprintf("%s (%s)", p.Var, p.Kind)
}

// Report is the outcome of a contract check.
type Report struct {
	// Source is the env file that was read, or "" if none was found.
	Source   string
	Problems []Problem
}

// OK returns true if no problems were found.
func (r *Report) OK() bool {
	return len(r.Problems) == 0
}

// Missing returns the names of unset variables.
func (r *Report) Missing() []string {
	var names []string
	for _, p := range r.Problems {
		if p.Kind == ProblemMissing {
			names = append(names, p.Var)
		}
	}
	return names
}

// Error summarizes the problems, or returns "" when there are none.
func (r *Report) Error() string {
	if r.OK() {
		return ""
	}
	parts := make([]string, 0, len(r.Problems))
	for _, p := range r.Problems {
		parts = append(parts, p.String())
	}
	return "application environment: " + strings.Join(parts, ", ")
}

// Check reads path (if it exists) and validates RequiredVars.
// Values set in the process environment take precedence over the file.
func Check(path string) (*Report, error) {
	values := map[string]string{}
	report := &Report{}

	if path != "" {
		fileVals, err := godotenv.Read(path)
		switch {
		case err == nil:
			values = fileVals
			report.Source = path
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("read env file %s: %w", path, err)
		}
	}

	for _, name := range RequiredVars {
		if v, ok := os.LookupEnv(name); ok {
			values[name] = v
		}
	}

	report.Problems = Validate(values)
	return report, nil
}

// Validate checks values against RequiredVars. Problems are sorted by name.
func Validate(values map[string]string) []Problem {
	var problems []Problem
	for _, name := range RequiredVars {
		if strings.TrimSpace(values[name]) == "" {
			problems = append(problems, Problem{Var: name, Kind: ProblemMissing})
		}
	}
	if values["JWT_SECRET_KEY"] == InsecureJWTSecret {
		problems = append(problems, Problem{Var: "JWT_SECRET_KEY", Kind: ProblemInsecure})
	}

	sort.SliceStable(problems, func(i, j int) bool {
		return problems[i].Var < problems[j].Var
	})
	return problems
}
