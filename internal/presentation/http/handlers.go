package http

import (
	"context"
	stdhttp "net/http"
	"net/url"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/sirupsen/logrus"

	"funblink/app/internal/data/database"
	"funblink/app/internal/domain/account"
	"funblink/app/internal/domain/blink"
)

type blinkBody struct {
	ID          string `json:"id" doc:"Logical key used by delete"`
	Title       string `json:"title,omitempty"`
	Icon        string `json:"icon,omitempty"`
	Description string `json:"description,omitempty"`
	Label       string `json:"label,omitempty"`
	ToPubkey    string `json:"toPubkey,omitempty" doc:"Recipient of the transfer actions"`
	Link        string `json:"link,omitempty" doc:"Action definition, e.g. {\"a\":[{\"value\":1}],\"m\":true}"`
}

type listBody struct {
	Address  string      `json:"address"`
	Owner    string      `json:"owner"`
	Bump     uint8       `json:"bump"`
	Capacity int         `json:"capacity"`
	Size     int         `json:"size"`
	Deposit  uint64      `json:"deposit"`
	Blinks   []blinkBody `json:"blinks"`
}

type listResponse struct {
	Body listBody
}

type createInput struct {
	ListAddress string `header:"X-Blink-List" doc:"List address the caller expects to control"`
	Body        blinkBody
}

type deleteInput struct {
	ID          string `path:"id"`
	ListAddress string `header:"X-Blink-List"`
}

type closeInput struct {
	ListAddress string `header:"X-Blink-List"`
}

type closeResponse struct {
	Body struct {
		Address  string `json:"address"`
		Refunded uint64 `json:"refunded"`
	}
}

type ownerInput struct {
	Owner string `path:"owner"`
}

type addressResponse struct {
	Body struct {
		Owner   string `json:"owner"`
		Address string `json:"address"`
		Bump    uint8  `json:"bump"`
	}
}

type findInput struct {
	Address string `path:"address"`
	ID      string `path:"id"`
}

type blinkResponse struct {
	Body blinkBody
}

type actionsInput struct {
	PDA string `query:"pda" required:"true" doc:"Blink list address"`
	ID  string `query:"id" required:"true" doc:"Blink id"`
}

type linkedActionBody struct {
	Label      string                `json:"label"`
	Href       string                `json:"href"`
	Parameters []actionParameterBody `json:"parameters,omitempty"`
}

type actionParameterBody struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
}

type actionResponse struct {
	Body struct {
		Type        string `json:"type"`
		Title       string `json:"title"`
		Icon        string `json:"icon"`
		Description string `json:"description"`
		Label       string `json:"label"`
		Links       struct {
			Actions []linkedActionBody `json:"actions"`
		} `json:"links"`
	}
}

type preflightResponse struct {
	Status int
}

type healthResponse struct {
	Status int
	Body   struct {
		Status   string `json:"status"`
		Database string `json:"database"`
	}
}

func (s *Server) registerBlinkRoutes() {
	huma.Register(s.api, signed(huma.Operation{
		OperationID:   "create-blink",
		Method:        stdhttp.MethodPost,
		Path:          "/v1/blinks",
		Summary:       "Append a blink to the caller's list",
		DefaultStatus: stdhttp.StatusCreated,
		Errors:        []int{stdhttp.StatusForbidden, stdhttp.StatusConflict, stdhttp.StatusRequestEntityTooLarge},
	}), s.createHandler)

	huma.Register(s.api, signed(huma.Operation{
		OperationID: "delete-blink",
		Method:      stdhttp.MethodDelete,
		Path:        "/v1/blinks/{id}",
		Summary:     "Remove every blink with the id from the caller's list",
		Errors:      []int{stdhttp.StatusForbidden, stdhttp.StatusNotFound},
	}), s.deleteHandler)

	huma.Register(s.api, signed(huma.Operation{
		OperationID: "close-blink-list",
		Method:      stdhttp.MethodDelete,
		Path:        "/v1/blinks",
		Summary:     "Close the caller's list and refund its deposit",
		Errors:      []int{stdhttp.StatusForbidden, stdhttp.StatusNotFound},
	}), s.closeHandler)

	huma.Register(s.api, signed(huma.Operation{
		OperationID: "get-own-blinks",
		Method:      stdhttp.MethodGet,
		Path:        "/v1/blinks",
		Summary:     "Read the caller's list",
		Errors:      []int{stdhttp.StatusNotFound},
	}), s.ownListHandler)
}

func (s *Server) registerOwnerRoutes() {
	huma.Get(s.api, "/v1/owners/{owner}/blinks", s.ownerListHandler, func(op *huma.Operation) {
		op.Summary = "Read an owner's list"
		op.Errors = []int{stdhttp.StatusBadRequest, stdhttp.StatusNotFound}
	})

	huma.Get(s.api, "/v1/owners/{owner}/address", s.addressHandler, func(op *huma.Operation) {
		op.Summary = "Derive an owner's list address"
		op.Errors = []int{stdhttp.StatusBadRequest}
	})

	huma.Get(s.api, "/v1/lists/{address}/blinks/{id}", s.findHandler, func(op *huma.Operation) {
		op.Summary = "Read one blink by list address"
		op.Errors = []int{stdhttp.StatusBadRequest, stdhttp.StatusNotFound}
	})
}

func (s *Server) registerActionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-action",
		Method:      stdhttp.MethodGet,
		Path:        "/api/actions",
		Summary:     "Action metadata for a blink",
		Metadata:    map[string]any{metadataCORS: true},
		Errors:      []int{stdhttp.StatusBadRequest, stdhttp.StatusNotFound},
	}, s.actionHandler)

	huma.Register(s.api, huma.Operation{
		OperationID:   "preflight-action",
		Method:        stdhttp.MethodOptions,
		Path:          "/api/actions",
		Summary:       "CORS preflight for action clients",
		DefaultStatus: stdhttp.StatusNoContent,
		Metadata:      map[string]any{metadataCORS: true},
	}, func(context.Context, *struct{}) (*preflightResponse, error) {
		return &preflightResponse{Status: stdhttp.StatusNoContent}, nil
	})
}

func (s *Server) registerHealthRoute() {
	huma.Get(s.api, "/healthz", s.healthHandler, func(op *huma.Operation) {
		op.Summary = "Health check"
	})
}

func (s *Server) createHandler(ctx context.Context, input *createInput) (*listResponse, error) {
	call, err := s.callFromContext(ctx, input.ListAddress)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.blinks.CreateBlink(ctx, call, fromBody(input.Body))
	if err != nil {
		return nil, s.toProblem(ctx, err, "creating blink", logrus.Fields{"owner": call.Owner.String(), "blink_id": input.Body.ID})
	}

	return &listResponse{Body: toListBody(snapshot)}, nil
}

func (s *Server) deleteHandler(ctx context.Context, input *deleteInput) (*listResponse, error) {
	call, err := s.callFromContext(ctx, input.ListAddress)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.blinks.DeleteBlink(ctx, call, input.ID)
	if err != nil {
		return nil, s.toProblem(ctx, err, "deleting blink", logrus.Fields{"owner": call.Owner.String(), "blink_id": input.ID})
	}

	return &listResponse{Body: toListBody(snapshot)}, nil
}

func (s *Server) closeHandler(ctx context.Context, input *closeInput) (*closeResponse, error) {
	call, err := s.callFromContext(ctx, input.ListAddress)
	if err != nil {
		return nil, err
	}

	closed, err := s.blinks.CloseBlink(ctx, call)
	if err != nil {
		return nil, s.toProblem(ctx, err, "closing blink list", logrus.Fields{"owner": call.Owner.String()})
	}

	resp := &closeResponse{}
	resp.Body.Address = closed.Address.String()
	resp.Body.Refunded = closed.Refunded
	return resp, nil
}

func (s *Server) ownListHandler(ctx context.Context, _ *struct{}) (*listResponse, error) {
	owner, ok := OwnerFromContext(ctx)
	if !ok {
		return nil, unauthenticated(ctx)
	}

	return s.listFor(ctx, owner)
}

func (s *Server) ownerListHandler(ctx context.Context, input *ownerInput) (*listResponse, error) {
	owner, err := account.ParsePubkey(strings.TrimSpace(input.Owner))
	if err != nil {
		return nil, badRequest(ctx, "owner is not a valid public key")
	}

	return s.listFor(ctx, owner)
}

func (s *Server) listFor(ctx context.Context, owner account.Pubkey) (*listResponse, error) {
	snapshot, err := s.blinks.GetList(ctx, owner)
	if err != nil {
		return nil, s.toProblem(ctx, err, "reading blink list", logrus.Fields{"owner": owner.String()})
	}

	return &listResponse{Body: toListBody(snapshot)}, nil
}

func (s *Server) addressHandler(ctx context.Context, input *ownerInput) (*addressResponse, error) {
	owner, err := account.ParsePubkey(strings.TrimSpace(input.Owner))
	if err != nil {
		return nil, badRequest(ctx, "owner is not a valid public key")
	}

	derived, err := s.blinks.Derive(owner)
	if err != nil {
		return nil, s.toProblem(ctx, err, "deriving list address", logrus.Fields{"owner": owner.String()})
	}

	resp := &addressResponse{}
	resp.Body.Owner = owner.String()
	resp.Body.Address = derived.Address.String()
	resp.Body.Bump = derived.Bump
	return resp, nil
}

func (s *Server) findHandler(ctx context.Context, input *findInput) (*blinkResponse, error) {
	found, err := s.findBlink(ctx, input.Address, input.ID)
	if err != nil {
		return nil, err
	}

	return &blinkResponse{Body: toBlinkBody(*found)}, nil
}

func (s *Server) actionHandler(ctx context.Context, input *actionsInput) (*actionResponse, error) {
	found, err := s.findBlink(ctx, input.PDA, input.ID)
	if err != nil {
		return nil, err
	}

	origin := originFromContext(ctx)
	baseHref := origin + "/api/actions?to=" + url.QueryEscape(found.ToPubkey)

	action, err := blink.BuildAction(*found, baseHref, origin)
	if err != nil {
		return nil, s.toProblem(ctx, err, "building action", logrus.Fields{"list": input.PDA, "blink_id": input.ID})
	}

	resp := &actionResponse{}
	resp.Body.Type = action.Type
	resp.Body.Title = action.Title
	resp.Body.Icon = action.Icon
	resp.Body.Description = action.Description
	resp.Body.Label = action.Label
	resp.Body.Links.Actions = make([]linkedActionBody, 0, len(action.Links))
	for _, link := range action.Links {
		body := linkedActionBody{Label: link.Label, Href: link.Href}
		for _, param := range link.Parameters {
			body.Parameters = append(body.Parameters, actionParameterBody{
				Name:     param.Name,
				Label:    param.Label,
				Required: param.Required,
			})
		}
		resp.Body.Links.Actions = append(resp.Body.Links.Actions, body)
	}

	return resp, nil
}

func (s *Server) healthHandler(ctx context.Context, _ *struct{}) (*healthResponse, error) {
	resp := &healthResponse{Status: stdhttp.StatusOK}
	resp.Body.Status = "ok"
	resp.Body.Database = "ok"

	sqlDB, err := database.SQLDB(s.db)
	if err != nil {
		s.recordError(ctx, err, "obtaining sql db", nil)
		resp.Body.Database = "error"
	} else if pingErr := sqlDB.PingContext(ctx); pingErr != nil {
		s.recordError(ctx, pingErr, "pinging database", nil)
		resp.Body.Database = "error"
	}

	if resp.Body.Database != "ok" {
		resp.Body.Status = "degraded"
		resp.Status = stdhttp.StatusServiceUnavailable
	}

	return resp, nil
}

func (s *Server) findBlink(ctx context.Context, rawAddress, id string) (*blink.Blink, error) {
	address, err := account.ParsePubkey(strings.TrimSpace(rawAddress))
	if err != nil {
		return nil, badRequest(ctx, "list address is not a valid public key")
	}

	found, err := s.blinks.FindBlink(ctx, address, id)
	if err != nil {
		return nil, s.toProblem(ctx, err, "finding blink", logrus.Fields{"list": address.String(), "blink_id": id})
	}

	return found, nil
}

// callFromContext builds the call for the authenticated owner. The returned error is
// always a *problem so handlers can return it as is.
func (s *Server) callFromContext(ctx context.Context, listHeader string) (blink.Call, error) {
	owner, ok := OwnerFromContext(ctx)
	if !ok {
		return blink.Call{}, unauthenticated(ctx)
	}

	call := blink.Call{Owner: owner}
	if trimmed := strings.TrimSpace(listHeader); trimmed != "" {
		list, err := account.ParsePubkey(trimmed)
		if err != nil {
			return blink.Call{}, badRequest(ctx, "X-Blink-List is not a valid public key")
		}
		call.ListAddress = &list
	}

	return call, nil
}

func signed(op huma.Operation) huma.Operation {
	if op.Metadata == nil {
		op.Metadata = map[string]any{}
	}
	op.Metadata[metadataSigned] = true
	op.Errors = append(op.Errors, stdhttp.StatusUnauthorized)
	return op
}

func fromBody(b blinkBody) blink.Blink {
	return blink.Blink{
		ID:          b.ID,
		Title:       b.Title,
		Icon:        b.Icon,
		Description: b.Description,
		Label:       b.Label,
		ToPubkey:    b.ToPubkey,
		Link:        b.Link,
	}
}

func toBlinkBody(b blink.Blink) blinkBody {
	return blinkBody{
		ID:          b.ID,
		Title:       b.Title,
		Icon:        b.Icon,
		Description: b.Description,
		Label:       b.Label,
		ToPubkey:    b.ToPubkey,
		Link:        b.Link,
	}
}

func toListBody(snapshot *blink.Snapshot) listBody {
	body := listBody{
		Address:  snapshot.Address.String(),
		Owner:    snapshot.Owner.String(),
		Bump:     snapshot.Bump,
		Capacity: snapshot.Capacity,
		Size:     snapshot.Size,
		Deposit:  snapshot.Deposit,
		Blinks:   make([]blinkBody, 0, len(snapshot.Blinks)),
	}
	for _, b := range snapshot.Blinks {
		body.Blinks = append(body.Blinks, toBlinkBody(b))
	}
	return body
}
