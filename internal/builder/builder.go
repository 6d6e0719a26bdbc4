// Package builder renders one page: it executes a view template against a
// fresh request pool and resolves the template's deferred blocks as their
// fetches settle, splicing each result into the page document.
//
// A deferred block is written in a template as
//
//	{{deferred (sig "url" (api "app" .Args.slug) "as" "app" "key" .Args.slug) "app/detail"}}
//
// where "app/detail" is the body template. The optional branches
// "app/detail:placeholder", "app/detail:empty" and "app/detail:except" are
// looked up by name. The body sees the page context plus .Data (the
// possibly plucked result) and .Response (the raw response).
package builder

import (
	"errors"
	"fmt"
	"html/template"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/briangreenhill/storefront/cache"
	"github.com/briangreenhill/storefront/internal/events"
	"github.com/briangreenhill/storefront/internal/future"
	"github.com/briangreenhill/storefront/internal/metrics"
	"github.com/briangreenhill/storefront/internal/models"
	"github.com/briangreenhill/storefront/internal/requests"
	"github.com/briangreenhill/storefront/internal/urls"
)

var (
	// ErrNoBlock is returned for an unknown block id.
	ErrNoBlock = errors.New("no such deferred block")
	// ErrNoMorePages is returned by LoadMore when the block has no next page.
	ErrNoMorePages = errors.New("no more pages")
	// ErrTerminated is returned for operations on a terminated build.
	ErrTerminated = errors.New("build terminated")
)

// State is the lifecycle of a build.
type State int

const (
	StateBuilding State = iota
	StateAwaiting
	StateReady
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAwaiting:
		return "awaiting"
	case StateReady:
		return "ready"
	case StateTerminated:
		return "terminated"
	default:
		return "building"
	}
}

const loadingIndicator = `<div class="loading"></div>`

var loadMoreSel = attrSelectorPresent(loadMoreAttr)

// Deps are the services a build uses.
type Deps struct {
	Templates *Templates
	Client    *requests.Client
	Models    *models.Store
	Cache     cache.Cache
	URLs      *urls.Builder
	Bus       *events.Bus
	Log       zerolog.Logger
}

type block struct {
	id   string
	sig  Signature
	body string
	req  *requests.Request
	done *future.Future[any]
	next string
	more *requests.Request
}

// Builder is one page build.
type Builder struct {
	deps  Deps
	pool  *requests.Pool
	tmpl  *template.Template
	state State
	ready *future.Future[struct{}]
	ctx   map[string]any
	root  *html.Node

	blocks map[string]*block
	named  map[string]*block

	title   string
	onTitle []func(string)
}

// New creates a build with its own request pool.
func New(deps Deps) *Builder {
	return &Builder{
		deps:   deps,
		pool:   requests.NewPool(deps.Client),
		ready:  future.New[struct{}](),
		blocks: make(map[string]*block),
		named:  make(map[string]*block),
	}
}

// Pool returns the build's request pool.
func (b *Builder) Pool() *requests.Pool { return b.pool }

// State returns the build state.
func (b *Builder) State() State { return b.state }

// Ready resolves when the build's pool completes and rejects when the
// build is terminated.
func (b *Builder) Ready() *future.Future[struct{}] { return b.ready }

// Blocks returns the number of deferred blocks created so far.
func (b *Builder) Blocks() int { return len(b.blocks) }

// Outstanding returns the number of blocks still waiting for data.
func (b *Builder) Outstanding() int {
	n := 0
	for _, blk := range b.blocks {
		if !blk.done.Settled() {
			n++
		}
	}
	return n
}

// Start renders the template name with ctx as the page context. Deferred
// blocks issue their fetches while the template executes.
func (b *Builder) Start(name string, ctx map[string]any) error {
	if b.root != nil || b.state != StateBuilding {
		return fmt.Errorf("start %s: build already started", name)
	}
	tmpl, err := b.deps.Templates.clone()
	if err != nil {
		return fmt.Errorf("clone templates: %w", err)
	}
	b.tmpl = tmpl.Funcs(template.FuncMap{
		"deferred":  b.deferred,
		"api":       b.deps.URLs.API,
		"apiParams": b.deps.URLs.APIParams,
		"url":       b.deps.URLs.Reverse,
	})
	b.ctx = make(map[string]any, len(ctx))
	for k, v := range ctx {
		b.ctx[k] = v
	}
	b.deps.Bus.Emit(events.BuildStart, b)

	b.root = &html.Node{Type: html.ElementNode, Data: "main", DataAtom: atom.Main}
	markup, err := b.execute(name, b.ctx)
	if err != nil {
		b.state = StateAwaiting
		return err
	}
	nodes, err := parseFragment(markup)
	if err != nil {
		b.state = StateAwaiting
		return err
	}
	appendNodes(b.root, nodes)
	b.state = StateAwaiting
	b.deps.Log.Debug().Str("template", name).Int("blocks", len(b.blocks)).Msg("build started")
	return nil
}

// Finish closes the pool once every block created so far, and every block
// they create, has been fetched. The build then becomes ready and emits
// loaded.
func (b *Builder) Finish() {
	if b.state == StateTerminated {
		return
	}
	b.pool.Then(func(struct{}) {
		if b.state != StateAwaiting {
			return
		}
		b.state = StateReady
		b.ready.Resolve(struct{}{})
		b.deps.Bus.Emit(events.Loaded, b)
	})
	b.pool.Finish()
}

// Terminate aborts the pool. Results arriving afterwards are discarded.
func (b *Builder) Terminate() {
	if b.state == StateTerminated {
		return
	}
	b.state = StateTerminated
	b.pool.Abort()
	// Next-page fetches are issued outside the pool.
	for _, blk := range b.blocks {
		if blk.more != nil {
			blk.more.Abort()
		}
	}
	b.ready.Reject(ErrTerminated)
	b.deps.Log.Debug().Msg("build terminated")
}

// HTML renders the page document.
func (b *Builder) HTML() (string, error) {
	if b.root == nil {
		return "", nil
	}
	return renderChildren(b.root)
}

// Title returns the page title.
func (b *Builder) Title() string { return b.title }

// SetTitle changes the page title and notifies OnTitle listeners.
func (b *Builder) SetTitle(title string) {
	if b.state == StateTerminated || title == b.title {
		return
	}
	b.title = title
	for _, fn := range b.onTitle {
		fn(title)
	}
	b.deps.Bus.Emit(events.Title, title)
}

// OnTitle registers fn for title changes.
func (b *Builder) OnTitle(fn func(string)) {
	b.onTitle = append(b.onTitle, fn)
}

// Onload calls cb with the data of the block with the given id once it
// resolves. It reports false when no such block exists.
func (b *Builder) Onload(id string, cb func(data any)) bool {
	blk, ok := b.named[id]
	if !ok {
		return false
	}
	blk.done.Then(cb)
	return true
}

// Paginated lists the ids of blocks that have a next page.
func (b *Builder) Paginated() []string {
	var ids []string
	for id, blk := range b.blocks {
		if blk.next != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// LoadMore fetches the next page of a paginated block and appends its items
// to the block's list container. A second call while the page is in flight
// returns the same request.
func (b *Builder) LoadMore(id string) (*requests.Request, error) {
	if b.state == StateTerminated {
		return nil, ErrTerminated
	}
	blk, ok := b.blocks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoBlock, id)
	}
	if blk.more != nil {
		return blk.more, nil
	}
	if blk.next == "" {
		return nil, ErrNoMorePages
	}
	req := b.deps.Client.Get(blk.next)
	blk.more = req
	req.Always(func() {
		blk.more = nil
		b.appendPage(blk, req)
	})
	return req, nil
}

func (b *Builder) execute(name string, data any) (string, error) {
	var buf strings.Builder
	if err := b.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func (b *Builder) has(name string) bool {
	return b.tmpl.Lookup(name) != nil
}

// deferred is the template func creating a block.
func (b *Builder) deferred(s Signature, body string) (template.HTML, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	if !b.has(body) {
		return "", fmt.Errorf("deferred: no template %q", body)
	}
	blk := &block{id: uuid.NewString(), sig: s, body: body, done: future.New[any]()}
	b.blocks[blk.id] = blk
	if s.ID != "" {
		b.named[s.ID] = blk
	}
	blk.req = b.fetch(s)

	var inner string
	if blk.req.Settled() {
		var data any
		var ok bool
		inner, data, ok = b.render(blk, blk.req)
		b.settle(blk, data, ok, metrics.BlockInline)
	} else {
		inner = b.placeholder(blk)
		blk.req.Always(func() { b.resolve(blk) })
	}
	return template.HTML(fmt.Sprintf(`<div class="deferred" %s="%s">%s</div>`, blockAttr, blk.id, inner)), nil
}

func (b *Builder) fetch(s Signature) *requests.Request {
	if s.As != "" && s.Key != "" {
		ks, err := b.deps.Models.Type(s.As)
		if err == nil {
			return ks.Get(s.URL, s.Key, b.pool.Get)
		}
		b.deps.Log.Error().Err(err).Str("url", s.URL).Msg("deferred block model lookup")
	}
	return b.pool.Get(s.URL)
}

func (b *Builder) placeholder(blk *block) string {
	name := blk.body + placeholderSuffix
	if !b.has(name) {
		return loadingIndicator
	}
	out, err := b.execute(name, b.ctx)
	if err != nil {
		b.deps.Log.Error().Err(err).Msg("placeholder render failed")
		return loadingIndicator
	}
	return out
}

// resolve splices an asynchronously settled block into the document.
func (b *Builder) resolve(blk *block) {
	if b.state == StateTerminated {
		return
	}
	markup, data, ok := b.render(blk, blk.req)
	el := findFirst([]*html.Node{b.root}, attrSelector(blockAttr, blk.id))
	if el == nil {
		metrics.RaiseInvariant("builder", "missing_placeholder")
		b.deps.Log.Warn().Str("block", blk.id).Msg("placeholder not in document")
	} else if nodes, err := parseFragment(markup); err != nil {
		b.deps.Log.Error().Err(err).Str("block", blk.id).Msg("splice failed")
	} else {
		replaceChildren(el, nodes)
	}
	b.settle(blk, data, ok, metrics.BlockAsync)
}

func (b *Builder) settle(blk *block, data any, ok bool, outcome string) {
	if !ok {
		_, err := blk.req.Value()
		if err == nil {
			err = errors.New("render failed")
		}
		metrics.DeferredBlocks.WithLabelValues(metrics.BlockFailed).Inc()
		blk.done.Reject(err)
		return
	}
	metrics.DeferredBlocks.WithLabelValues(outcome).Inc()
	blk.done.Resolve(data)
}

// render runs the render protocol for a settled request and returns the
// block markup, the data bound to the body and whether rendering succeeded.
func (b *Builder) render(blk *block, req *requests.Request) (string, any, bool) {
	raw, err := req.Value()
	if req.State() == future.StateRejected {
		return b.failure(blk, err), nil, false
	}

	data := b.pluck(blk, raw)
	if blk.sig.As != "" {
		if ks, err := b.deps.Models.Type(blk.sig.As); err != nil {
			b.deps.Log.Error().Err(err).Str("block", blk.id).Msg("cast skipped")
		} else if req.Cached {
			data = b.reconcile(blk, ks, data)
		} else if !req.Casted {
			ks.Cast(data)
		}
	}

	var markup string
	if isEmptyList(data) && b.has(blk.body+emptySuffix) {
		markup, err = b.execute(blk.body+emptySuffix, b.ctx)
	} else {
		markup, err = b.execute(blk.body, b.bodyContext(data, raw))
	}
	if err != nil {
		b.deps.Log.Error().Err(err).Str("block", blk.id).Msg("block render failed")
		return b.failure(blk, err), nil, false
	}

	if blk.sig.extract != nil {
		nodes, err := parseFragment(markup)
		if err != nil {
			return b.failure(blk, err), nil, false
		}
		if markup, err = renderNodes(matchAll(nodes, blk.sig.extract)); err != nil {
			return b.failure(blk, err), nil, false
		}
	}

	if blk.sig.paginate != nil {
		blk.next = nextPage(raw)
		if blk.next != "" {
			markup += b.trigger(blk)
		}
	}
	return markup, data, true
}

func (b *Builder) pluck(blk *block, raw any) any {
	if blk.sig.Pluck == "" {
		return raw
	}
	return cast.ToStringMap(raw)[blk.sig.Pluck]
}

func (b *Builder) bodyContext(data, raw any) map[string]any {
	ctx := make(map[string]any, len(b.ctx)+2)
	for k, v := range b.ctx {
		ctx[k] = v
	}
	ctx["Data"] = data
	ctx["Response"] = raw
	return ctx
}

func (b *Builder) failure(blk *block, err error) string {
	ctx := make(map[string]any, len(b.ctx)+1)
	for k, v := range b.ctx {
		ctx[k] = v
	}
	ctx["Error"] = err.Error()

	name := blk.body + exceptSuffix
	if !b.has(name) {
		name = ErrorTemplate
	}
	b.deps.Log.Warn().Err(err).Str("url", blk.sig.URL).Str("template", name).Msg("deferred block failed")
	if !b.has(name) {
		return ""
	}
	out, rerr := b.execute(name, ctx)
	if rerr != nil {
		b.deps.Log.Error().Err(rerr).Msg("error fragment render failed")
		return ""
	}
	return out
}

func (b *Builder) trigger(blk *block) string {
	return fmt.Sprintf(`<button class="loadmore" %s="%s">Load more</button>`, loadMoreAttr, blk.id)
}

// reconcile substitutes the authoritative model records into a payload
// served from the object cache, casting records the store does not have
// yet, and writes the result back so the cached payload matches.
func (b *Builder) reconcile(blk *block, ks *models.Keyspace, data any) any {
	merged := substitute(ks, data)
	key := b.pool.Key(blk.sig.URL)
	pluck := blk.sig.Pluck
	b.deps.Cache.AttemptRewrite(
		func(k string) bool { return k == key },
		func(v any, _ string) any {
			if pluck == "" {
				return merged
			}
			prev := cast.ToStringMap(v)
			out := make(map[string]any, len(prev))
			for k, x := range prev {
				out[k] = x
			}
			out[pluck] = merged
			return out
		}, 1)
	return merged
}

func substitute(ks *models.Keyspace, data any) any {
	switch t := data.(type) {
	case models.Record:
		if rec, _ := ks.Uncast(t).(models.Record); rec != nil {
			return rec
		}
		ks.Cast(t)
		return t
	case []any:
		auth, _ := ks.Uncast(t).([]any)
		out := make([]any, len(t))
		for i, el := range t {
			if i < len(auth) && auth[i] != nil {
				out[i] = auth[i]
				continue
			}
			ks.Cast(el)
			out[i] = el
		}
		return out
	}
	return data
}

// appendPage renders a fetched page with the block body and moves the items
// of its list container into the document's container.
func (b *Builder) appendPage(blk *block, req *requests.Request) {
	if b.state == StateTerminated {
		return
	}
	raw, err := req.Value()
	if err != nil {
		b.deps.Log.Warn().Err(err).Str("block", blk.id).Msg("load more failed")
		return
	}
	data := b.pluck(blk, raw)
	if blk.sig.As != "" {
		if ks, err := b.deps.Models.Type(blk.sig.As); err == nil {
			ks.Cast(data)
		}
	}
	markup, err := b.execute(blk.body, b.bodyContext(data, raw))
	if err != nil {
		b.deps.Log.Error().Err(err).Str("block", blk.id).Msg("page render failed")
		return
	}
	nodes, err := parseFragment(markup)
	if err != nil {
		b.deps.Log.Error().Err(err).Str("block", blk.id).Msg("page parse failed")
		return
	}

	el := findFirst([]*html.Node{b.root}, attrSelector(blockAttr, blk.id))
	if el == nil {
		metrics.RaiseInvariant("builder", "missing_placeholder")
		return
	}
	src := findFirst(nodes, blk.sig.paginate)
	dst := findFirst(childNodes(el), blk.sig.paginate)
	if src == nil || dst == nil {
		b.deps.Log.Warn().Str("block", blk.id).Str("selector", blk.sig.Paginate).Msg("list container not found")
		return
	}
	appendNodes(dst, childNodes(src))

	blk.next = nextPage(raw)
	if blk.next == "" {
		removeAll(childNodes(el), loadMoreSel)
	}
}

func nextPage(raw any) string {
	meta := cast.ToStringMap(cast.ToStringMap(raw)["meta"])
	return cast.ToString(meta["next"])
}

func isEmptyList(v any) bool {
	switch t := v.(type) {
	case []any:
		return len(t) == 0
	case []models.Record:
		return len(t) == 0
	}
	return false
}
