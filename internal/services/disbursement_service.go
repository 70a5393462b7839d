package services

import (
	"encoding/xml"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/spf13/viper"
	"github.com/ubasgroup/backend/internal/models"
)

// DisbursementService turns an approved grant into an ISO 20022 pacs.008
// credit transfer for the settlement gateway.
type DisbursementService struct{}

func NewDisbursementService() *DisbursementService {
	viper.SetDefault("settlement.debtor_bic", "UBASUS33")
	return &DisbursementService{}
}

// CreatePacs008 builds a FIToFICustomerCreditTransfer for one approved grant.
// The beneficiary is the grant's account; the debtor is the bank itself.
func (ds *DisbursementService) CreatePacs008(grant *models.Grant, beneficiaryAccount string) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	if grant.Status != models.GrantStatusApproved {
		return nil, fmt.Errorf("grant %s is %s, only approved grants are disbursed", grant.ID, grant.Status)
	}

	msgID := uuid.New().String()
	now := time.Now()
	debtorBIC := viper.GetString("settlement.debtor_bic")
	amount := grant.Amount.InexactFloat64()

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgID),
			CreDtTm: common.ISODateTime(now),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(grant.Currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&now),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(grant.ID.String())}[0],
					EndToEndId: common.Max35Text(grant.ID.String()),
					TxId:       &[]common.Max35Text{common.Max35Text(grant.ID.String())}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(grant.Currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&now),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(debtorBIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text("UBAS Grant Disbursement")}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(debtorBIC)}[0],
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(beneficiaryAccount)}[0],
				},
			},
		},
	}

	return doc, nil
}

// CreatePacs002 builds the payment status report acknowledging a disbursement.
func (ds *DisbursementService) CreatePacs002(grant *models.Grant, status string) (*pacs_v08.FIToFIPaymentStatusReportV08, error) {
	msgID := uuid.New().String()
	now := time.Now()

	doc := &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(msgID),
			CreDtTm: common.ISODateTime(now),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlInstrId:    &[]common.Max35Text{common.Max35Text(grant.ID.String())}[0],
				OrgnlEndToEndId: &[]common.Max35Text{common.Max35Text(grant.ID.String())}[0],
				OrgnlTxId:       &[]common.Max35Text{common.Max35Text(grant.ID.String())}[0],
				TxSts:           &[]pacs_v08.ExternalPaymentTransactionStatus1Code{pacs_v08.ExternalPaymentTransactionStatus1Code(status)}[0],
			},
		},
	}

	return doc, nil
}

// SendToSettlement hands a message to the settlement gateway.
func (ds *DisbursementService) SendToSettlement(doc interface{}) error {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal XML: %w", err)
	}

	// TODO: post to the settlement gateway once its endpoint is provisioned.
	log.Printf("[DISBURSE] Sending to settlement: %d bytes", len(xmlData))
	return nil
}

// ConvertToXML renders an ISO 20022 document as an XML string.
func (ds *DisbursementService) ConvertToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
