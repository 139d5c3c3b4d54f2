package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	goeval "github.com/edisonguo/govaluate"
)

const DefaultMaxPosixErrors = 1000

// posixCrawler walks directory trees with a bounded number of goroutines
// and hands the regular files accepted by the pattern expression to a
// single consumer.
type posixCrawler struct {
	outputs       chan string
	errs          chan error
	wg            sync.WaitGroup
	concLimit     chan struct{}
	outputDone    chan struct{}
	pattern       *goeval.EvaluableExpression
	followSymlink bool
}

func newPosixCrawler(conc int, pattern *goeval.EvaluableExpression, followSymlink bool) *posixCrawler {
	if conc < 1 {
		conc = 1
	}
	return &posixCrawler{
		outputs:       make(chan string, 4096),
		errs:          make(chan error, 100),
		concLimit:     make(chan struct{}, conc),
		outputDone:    make(chan struct{}, 1),
		pattern:       pattern,
		followSymlink: followSymlink,
	}
}

// parsePatternExpression compiles a file selection expression over the
// variables path and type ("d" or "f"). An empty pattern selects all.
func parsePatternExpression(pattern string) (*goeval.EvaluableExpression, error) {
	return compileExpression(pattern, map[string]struct{}{"path": {}, "type": {}})
}

// Crawl walks every root and calls handle from a single goroutine for
// each selected file. Roots that are files are handed over directly.
func (pc *posixCrawler) Crawl(roots []string, handle func(path string)) error {
	go func() {
		for p := range pc.outputs {
			handle(p)
		}
		pc.outputDone <- struct{}{}
	}()

	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			pc.report(err)
			continue
		}
		st, err := os.Stat(abs)
		if err != nil {
			pc.report(err)
			continue
		}
		if !st.IsDir() {
			pc.outputs <- abs
			continue
		}
		pc.wg.Add(1)
		pc.concLimit <- struct{}{}
		pc.crawlDir(abs, false)
	}
	pc.wg.Wait()

	close(pc.outputs)
	<-pc.outputDone

	close(pc.errs)
	var errors []string
	for err := range pc.errs {
		errors = append(errors, err.Error())
		if len(errors) >= DefaultMaxPosixErrors {
			errors = append(errors, " ... too many errors")
			break
		}
	}
	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, "\n"))
	}
	return nil
}

func (pc *posixCrawler) report(err error) {
	select {
	case pc.errs <- err:
	default:
	}
}

func (pc *posixCrawler) crawlDir(currPath string, serialised bool) {
	defer pc.wg.Done()
	if !serialised {
		defer func() { <-pc.concLimit }()
	}

	entries, err := os.ReadDir(currPath)
	if err != nil {
		pc.report(err)
		return
	}

	for _, de := range entries {
		filePath := filepath.Join(currPath, de.Name())
		mode := de.Type()

		if mode&os.ModeSymlink != 0 {
			if !pc.followSymlink {
				continue
			}
			st, err := os.Stat(filePath)
			if err != nil {
				pc.report(err)
				continue
			}
			mode = st.Mode()
		}

		isDir := mode.IsDir()
		if !isDir && !mode.IsRegular() {
			continue
		}

		if pc.pattern != nil {
			ok, err := pc.evaluatePatternExpression(filePath, isDir)
			if err != nil {
				pc.report(err)
				continue
			}
			if !ok {
				continue
			}
		}

		if !isDir {
			pc.outputs <- filePath
			continue
		}

		pc.wg.Add(1)
		select {
		case pc.concLimit <- struct{}{}:
			go pc.crawlDir(filePath, false)
		default:
			pc.crawlDir(filePath, true)
		}
	}
}

func (pc *posixCrawler) evaluatePatternExpression(filePath string, isDir bool) (bool, error) {
	fileType := "f"
	if isDir {
		fileType = "d"
	}
	ok, err := evaluateBool(pc.pattern, map[string]interface{}{"type": fileType, "path": filePath})
	if err != nil {
		return false, fmt.Errorf("pattern expression: %v", err)
	}
	return ok, nil
}
