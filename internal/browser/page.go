// Package browser drives the grid page through the Chrome DevTools
// Protocol. It implements grid.Page on top of chromedp.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/JonMunkholm/gridfill/internal/config"
	"github.com/JonMunkholm/gridfill/internal/grid"
)

// DefaultCellEditor is the input DevExpress grids open inside an edited cell.
const DefaultCellEditor = `input[type="text"]`

// Page is one Chrome tab. Calls are bounded by the caller's context while
// the tab itself lives until Close.
type Page struct {
	tab        context.Context
	closeTab   context.CancelFunc
	closeAlloc context.CancelFunc
	cellEditor string
}

var _ grid.Page = (*Page)(nil)

// Open starts Chrome with cfg and opens a blank tab.
func Open(ctx context.Context, cfg config.BrowserConfig, cellEditor string) (*Page, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(1600, 1000),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}

	allocCtx, closeAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	tab, closeTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		slog.Debug("chromedp", "msg", fmt.Sprintf(format, args...))
	}))

	// The first Run launches the browser.
	if err := chromedp.Run(tab); err != nil {
		closeTab()
		closeAlloc()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	if cellEditor == "" {
		cellEditor = DefaultCellEditor
	}
	slog.Info("browser started", "headless", cfg.Headless)
	return &Page{tab: tab, closeTab: closeTab, closeAlloc: closeAlloc, cellEditor: cellEditor}, nil
}

// Close shuts the tab and the browser process.
func (p *Page) Close() error {
	p.closeTab()
	p.closeAlloc()
	return nil
}

// run executes actions on the tab, bounded by ctx.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.tab)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		var cancelDL context.CancelFunc
		runCtx, cancelDL = context.WithDeadline(runCtx, dl)
		defer cancelDL()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return interactable(err)
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *Page) WaitVisible(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *Page) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	var n int
	err := p.run(ctx, chromedp.Evaluate(countScript(selector), &n))
	return n, err
}

func (p *Page) Rows(ctx context.Context, rowSelector string) ([][]string, error) {
	var rows [][]string
	if err := p.run(ctx, chromedp.Evaluate(rowsScript(rowSelector), &rows)); err != nil {
		return nil, err
	}
	return rows, nil
}

func (p *Page) ClickRow(ctx context.Context, rowSelector string, row int) error {
	var nodes []*cdp.Node
	if err := p.run(ctx, chromedp.Nodes(rowSelector, &nodes, chromedp.ByQueryAll)); err != nil {
		return err
	}
	if row < 0 || row >= len(nodes) {
		return fmt.Errorf("row %d out of range (%d rows)", row, len(nodes))
	}
	return p.run(ctx, chromedp.MouseClickNode(nodes[row]))
}

// EditCell double-clicks the cell to open its editor, replaces the value,
// confirms with Enter and reads the rendered text back.
func (p *Page) EditCell(ctx context.Context, rowSelector string, row, col int, value string) (string, error) {
	var rows []*cdp.Node
	if err := p.run(ctx, chromedp.Nodes(rowSelector, &rows, chromedp.ByQueryAll)); err != nil {
		return "", err
	}
	if row < 0 || row >= len(rows) {
		return "", fmt.Errorf("row %d out of range (%d rows)", row, len(rows))
	}

	var cells []*cdp.Node
	if err := p.run(ctx, chromedp.Nodes(cellSelector, &cells, chromedp.ByQueryAll, chromedp.FromNode(rows[row]))); err != nil {
		return "", err
	}
	if col < 0 || col >= len(cells) {
		return "", fmt.Errorf("column %d out of range (%d cells)", col, len(cells))
	}
	cell := cells[col]

	err := p.run(ctx,
		chromedp.MouseClickNode(cell, chromedp.ClickCount(2)),
		chromedp.WaitVisible(p.cellEditor, chromedp.ByQuery, chromedp.FromNode(cell)),
		chromedp.SetValue(p.cellEditor, "", chromedp.ByQuery, chromedp.FromNode(cell)),
		chromedp.SendKeys(p.cellEditor, value+kb.Enter, chromedp.ByQuery, chromedp.FromNode(cell)),
	)
	if err != nil {
		return "", err
	}

	var got string
	if err := p.run(ctx, chromedp.Evaluate(cellScript(rowSelector, row, col), &got)); err != nil {
		return "", err
	}
	return got, nil
}

func (p *Page) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0o644)
}

// interactable maps CDP errors about hidden or detached nodes to
// grid.ErrNotInteractable so the executor retries them.
func interactable(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"box model", "not visible", "node is detached", "could not find node"} {
		if strings.Contains(msg, s) {
			return fmt.Errorf("%w: %v", grid.ErrNotInteractable, err)
		}
	}
	return err
}

// cellSelector picks the cells of a row. Reads and writes index the same
// list so column numbers agree.
const cellSelector = "td,th"

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func countScript(selector string) string {
	return fmt.Sprintf(`document.querySelectorAll(%s).length`, quote(selector))
}

func rowsScript(selector string) string {
	return fmt.Sprintf(`Array.from(document.querySelectorAll(%s)).map(r =>
	Array.from(r.querySelectorAll(%s)).map(c => (c.innerText || '').trim()))`, quote(selector), quote(cellSelector))
}

func cellScript(selector string, row, col int) string {
	return fmt.Sprintf(`(() => {
	const r = document.querySelectorAll(%s)[%d];
	const c = r ? r.querySelectorAll(%s)[%d] : null;
	return c ? (c.innerText || '').trim() : '';
})()`, quote(selector), row, quote(cellSelector), col)
}
