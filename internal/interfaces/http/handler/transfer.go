package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vipm/backend/internal/domain/fulfillment"
	"github.com/vipm/backend/internal/interfaces/http/dto"
	"github.com/vipm/backend/internal/interfaces/http/middleware"
)

// TransferHandler exposes legacy membership transfers
type TransferHandler struct {
	BaseHandler
	transfers fulfillment.TransferReader
}

// NewTransferHandler creates a new TransferHandler
func NewTransferHandler(transfers fulfillment.TransferReader) *TransferHandler {
	return &TransferHandler{transfers: transfers}
}

// List handles GET /transfers?membership_id=&product_id=&authorization_id=.
// With both product and authorization the latest matching transfer is
// returned as a one element list; otherwise every transfer of the
// membership is listed, newest first, optionally narrowed to a product.
//
//	@Summary		List membership transfers
//	@Tags			transfers
//	@Produce		json
//	@Param			membership_id		query		string	true	"Legacy membership id"
//	@Param			product_id			query		string	false	"Product id"
//	@Param			authorization_id	query		string	false	"Authorization id"
//	@Success		200					{object}	dto.Response{data=[]dto.TransferResponse}
//	@Failure		400					{object}	dto.Response{error=dto.ErrorInfo}
//	@Failure		404					{object}	dto.Response{error=dto.ErrorInfo}
//	@Router			/transfers [get]
func (h *TransferHandler) List(c *gin.Context) {
	var query dto.TransferQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	ctx := c.Request.Context()

	if query.Latest() {
		transfer, err := h.transfers.FindByMembership(ctx, query.ProductID, query.AuthorizationID, query.MembershipID)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		h.Success(c, dto.NewTransferResponses([]*fulfillment.Transfer{transfer}))
		return
	}

	transfers, err := h.transfers.ListByMembership(ctx, query.MembershipID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewTransferResponses(filterTransfers(transfers, query)))
}

// Get handles GET /transfers/:id
//
//	@Summary	Get a transfer
//	@Tags		transfers
//	@Produce	json
//	@Param		id	path		string	true	"Transfer id"	Format(uuid)
//	@Success	200	{object}	dto.Response{data=dto.TransferResponse}
//	@Failure	400	{object}	dto.Response{error=dto.ErrorInfo}
//	@Failure	404	{object}	dto.Response{error=dto.ErrorInfo}
//	@Router		/transfers/{id} [get]
func (h *TransferHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid transfer id")
		return
	}
	transfer, err := h.transfers.FindByID(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewTransferResponse(transfer))
}

func filterTransfers(transfers []*fulfillment.Transfer, query dto.TransferQuery) []*fulfillment.Transfer {
	if query.ProductID == "" && query.AuthorizationID == "" {
		return transfers
	}
	out := transfers[:0:0]
	for _, t := range transfers {
		if query.ProductID != "" && t.ProductID != query.ProductID {
			continue
		}
		if query.AuthorizationID != "" && t.AuthorizationID != query.AuthorizationID {
			continue
		}
		out = append(out, t)
	}
	return out
}
