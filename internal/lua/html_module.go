package lua

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	lua "github.com/yuin/gopher-lua"
)

const (
	luaDocumentTypeName = "html_document"
	luaElementTypeName  = "html_element"
)

// HTMLModule wraps goquery. Every function also works as a method, so
// html.select(doc, "a") and doc:select("a") are equivalent.
type HTMLModule struct{}

func NewHTMLModule() *HTMLModule {
	return &HTMLModule{}
}

func (h *HTMLModule) Name() string {
	return "html"
}

func (h *HTMLModule) Register(L *lua.LState) error {
	queryMethods := map[string]lua.LGFunction{
		"select":     h.htmlSelect,
		"select_one": h.htmlSelectOne,
		"text":       h.htmlText,
		"html":       h.htmlHTML,
	}
	elementMethods := map[string]lua.LGFunction{
		"attr": h.htmlAttr,
	}
	for name, fn := range queryMethods {
		elementMethods[name] = fn
	}

	docMT := L.NewTypeMetatable(luaDocumentTypeName)
	L.SetField(docMT, "__index", L.SetFuncs(L.NewTable(), queryMethods))

	elemMT := L.NewTypeMetatable(luaElementTypeName)
	L.SetField(elemMT, "__index", L.SetFuncs(L.NewTable(), elementMethods))

	htmlTable := L.NewTable()
	L.SetField(htmlTable, "parse", L.NewFunction(h.htmlParse))
	L.SetFuncs(htmlTable, elementMethods)

	L.SetGlobal("html", htmlTable)
	return nil
}

// selection unwraps the document or element at stack index n.
func selection(L *lua.LState, n int) *goquery.Selection {
	ud := L.CheckUserData(n)
	switch v := ud.Value.(type) {
	case *goquery.Document:
		return v.Selection
	case *goquery.Selection:
		return v
	default:
		L.ArgError(n, "expected html document or element")
		return nil
	}
}

func pushElement(L *lua.LState, s *goquery.Selection) {
	ud := L.NewUserData()
	ud.Value = s
	L.SetMetatable(ud, L.GetTypeMetatable(luaElementTypeName))
	L.Push(ud)
}

func (h *HTMLModule) htmlParse(L *lua.LState) int {
	htmlContent := L.CheckString(1)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(fmt.Sprintf("failed to parse HTML: %s", err.Error())))
		return 2
	}

	ud := L.NewUserData()
	ud.Value = doc
	L.SetMetatable(ud, L.GetTypeMetatable(luaDocumentTypeName))
	L.Push(ud)
	return 1
}

func (h *HTMLModule) htmlSelect(L *lua.LState) int {
	sel := selection(L, 1)
	selector := L.CheckString(2)

	elements := L.NewTable()
	sel.Find(selector).Each(func(_ int, s *goquery.Selection) {
		pushElement(L, s)
		elements.Append(L.Get(-1))
		L.Pop(1)
	})

	L.Push(elements)
	return 1
}

func (h *HTMLModule) htmlSelectOne(L *lua.LState) int {
	sel := selection(L, 1)
	selector := L.CheckString(2)

	found := sel.Find(selector).First()
	if found.Length() == 0 {
		L.Push(lua.LNil)
		return 1
	}

	pushElement(L, found)
	return 1
}

func (h *HTMLModule) htmlText(L *lua.LState) int {
	sel := selection(L, 1)
	L.Push(lua.LString(strings.TrimSpace(sel.Text())))
	return 1
}

func (h *HTMLModule) htmlAttr(L *lua.LState) int {
	sel := selection(L, 1)
	attrName := L.CheckString(2)

	attrValue, exists := sel.Attr(attrName)
	if !exists {
		L.Push(lua.LNil)
		return 1
	}

	L.Push(lua.LString(attrValue))
	return 1
}

func (h *HTMLModule) htmlHTML(L *lua.LState) int {
	sel := selection(L, 1)

	htmlContent, err := sel.Html()
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(fmt.Sprintf("failed to get HTML: %s", err.Error())))
		return 2
	}

	L.Push(lua.LString(htmlContent))
	return 1
}
