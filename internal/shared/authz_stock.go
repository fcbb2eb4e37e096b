package shared

// Stock network permissions.
const (
	PermLedgerView = "ledger.view"

	PermTransferView         = "transfer.view"
	PermTransferCreate       = "transfer.create"
	PermTransferAdminApprove = "transfer.admin_approve"
	PermTransferConfirm      = "transfer.confirm"
	PermTransferShip         = "transfer.ship"
	PermTransferComplete     = "transfer.complete"
	PermTransferReject       = "transfer.reject"

	PermStockRequestView     = "stockrequest.view"
	PermStockRequestCreate   = "stockrequest.create"
	PermStockRequestConfirm  = "stockrequest.confirm"
	PermStockRequestShip     = "stockrequest.ship"
	PermStockRequestComplete = "stockrequest.complete"

	PermUsageView          = "usage.view"
	PermUsageCreate        = "usage.create"
	PermUsageApproveDamage = "usage.approve_damage"
	PermUsageCancel        = "usage.cancel"

	PermDamageReturnView    = "damagereturn.view"
	PermDamageReturnCreate  = "damagereturn.create"
	PermDamageReturnApprove = "damagereturn.approve"

	PermProcurementView = "procurement.view"
	PermProcurementEdit = "procurement.edit"

	PermMasterDataView = "masterdata.view"
	PermMasterDataEdit = "masterdata.edit"
)

// StockScopes lists all permissions related to the stock network.
func StockScopes() []string {
	return []string{
		PermLedgerView,
		PermTransferView,
		PermTransferCreate,
		PermTransferAdminApprove,
		PermTransferConfirm,
		PermTransferShip,
		PermTransferComplete,
		PermTransferReject,
		PermStockRequestView,
		PermStockRequestCreate,
		PermStockRequestConfirm,
		PermStockRequestShip,
		PermStockRequestComplete,
		PermUsageView,
		PermUsageCreate,
		PermUsageApproveDamage,
		PermUsageCancel,
		PermDamageReturnView,
		PermDamageReturnCreate,
		PermDamageReturnApprove,
		PermProcurementView,
		PermProcurementEdit,
		PermMasterDataView,
		PermMasterDataEdit,
	}
}
