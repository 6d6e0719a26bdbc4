package routes

import (
	"github.com/spf13/cast"

	"github.com/briangreenhill/storefront/internal/builder"
	"github.com/briangreenhill/storefront/internal/urls"
)

// Storefront returns the storefront route table.
func Storefront(u *urls.Builder) *Table {
	t := New(u)
	t.Add(&View{Name: "home", Pattern: "/", Build: t.home})
	t.Add(&View{Name: "app", Pattern: "/app/{slug}", Build: t.app})
	t.Add(&View{Name: "app.ratings", Pattern: "/app/{slug}/ratings", Build: t.ratings})
	t.Add(&View{Name: "search", Pattern: "/search", Build: t.search})
	t.Add(&View{Name: "category", Pattern: "/category/{slug}", Build: t.category})
	return t
}

func (t *Table) home(b *builder.Builder, req Request) (Meta, error) {
	if err := b.Start("home", pageContext(req)); err != nil {
		return Meta{}, err
	}
	return Meta{Title: "Storefront", Type: "root"}, nil
}

func (t *Table) app(b *builder.Builder, req Request) (Meta, error) {
	if err := b.Start("app", pageContext(req)); err != nil {
		return Meta{}, err
	}
	b.Onload("app", func(data any) {
		if name := cast.ToString(cast.ToStringMap(data)["name"]); name != "" {
			b.SetTitle(name)
		}
	})
	return Meta{Title: req.Args["slug"], Type: "leaf"}, nil
}

func (t *Table) ratings(b *builder.Builder, req Request) (Meta, error) {
	if err := b.Start("app/ratings", pageContext(req)); err != nil {
		return Meta{}, err
	}
	parent, err := t.Reverse("app", req.Args["slug"])
	if err != nil {
		return Meta{}, err
	}
	return Meta{Title: "Reviews", Type: "leaf", Parent: parent}, nil
}

func (t *Table) search(b *builder.Builder, req Request) (Meta, error) {
	if err := b.Start("search", pageContext(req)); err != nil {
		return Meta{}, err
	}
	return Meta{Title: "Search results", Type: "search"}, nil
}

func (t *Table) category(b *builder.Builder, req Request) (Meta, error) {
	if err := b.Start("category", pageContext(req)); err != nil {
		return Meta{}, err
	}
	return Meta{Title: req.Args["slug"], Type: "leaf"}, nil
}
