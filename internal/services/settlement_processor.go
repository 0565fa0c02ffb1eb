package services

import (
	"context"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/ruralpay/webhooks/internal/models"
	"go.uber.org/zap"
)

const (
	MessageTypePacs008 = "pacs.008.001.08"
	MessageTypePacs002 = "pacs.002.001.08"

	// pacs.002 transaction status codes
	StatusAcceptedSettlementCompleted = "ACSC"
	StatusRejected                    = "RJCT"
)

// Settler delivers an ISO 20022 document to the settlement system
type Settler interface {
	Send(ctx context.Context, messageType, document string) error
}

// LogSettler logs documents instead of delivering them
type LogSettler struct {
	logger *zap.SugaredLogger
}

func NewLogSettler(logger *zap.SugaredLogger) *LogSettler {
	return &LogSettler{logger: logger}
}

func (s *LogSettler) Send(ctx context.Context, messageType, document string) error {
	s.logger.Debugw("[SETTLEMENT] sending document", "message_type", messageType, "document", document)
	return nil
}

// SettlementProcessor settles a transaction by sending a pacs.008 credit
// transfer followed by the pacs.002 status report for it.
type SettlementProcessor struct {
	settler  Settler
	agentBIC string
	now      func() time.Time
}

func NewSettlementProcessor(settler Settler) *SettlementProcessor {
	return &SettlementProcessor{
		settler:  settler,
		agentBIC: "RURALPAY",
		now:      time.Now,
	}
}

func (p *SettlementProcessor) Process(ctx context.Context, tx *models.Transaction) (Outcome, error) {
	if !isActiveCurrencyCode(tx.Currency) {
		reason := fmt.Sprintf("unsupported currency %q", tx.Currency)
		if err := p.sendStatus(ctx, tx, StatusRejected); err != nil {
			return Outcome{}, err
		}
		return Failed(reason), nil
	}

	pacs008, err := p.CreatePacs008(tx)
	if err != nil {
		return Outcome{}, err
	}
	xmlData, err := ConvertToXML(pacs008)
	if err != nil {
		return Outcome{}, err
	}
	if err := p.settler.Send(ctx, MessageTypePacs008, xmlData); err != nil {
		return Outcome{}, fmt.Errorf("settlement rejected credit transfer: %w", err)
	}

	if err := p.sendStatus(ctx, tx, StatusAcceptedSettlementCompleted); err != nil {
		return Outcome{}, err
	}
	return Processed(), nil
}

func (p *SettlementProcessor) sendStatus(ctx context.Context, tx *models.Transaction, status string) error {
	pacs002, err := p.CreatePacs002(tx, status)
	if err != nil {
		return err
	}
	xmlData, err := ConvertToXML(pacs002)
	if err != nil {
		return err
	}
	if err := p.settler.Send(ctx, MessageTypePacs002, xmlData); err != nil {
		return fmt.Errorf("failed to send status report: %w", err)
	}
	return nil
}

// CreatePacs008 creates a pacs.008 FIToFICustomerCreditTransfer message
func (p *SettlementProcessor) CreatePacs008(tx *models.Transaction) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	msgId := uuid.New().String()
	creDtTm := p.now()
	settlementDate := creDtTm
	amount := tx.Amount.InexactFloat64()

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(tx.Currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG", // Clearing
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(tx.TransactionID)}[0],
					EndToEndId: common.Max35Text(tx.TransactionID),
					TxId:       &[]common.Max35Text{common.Max35Text(tx.TransactionID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(tx.Currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(p.agentBIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(tx.SourceAccount)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(p.agentBIC)}[0],
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(tx.DestinationAccount)}[0],
				},
			},
		},
	}

	return doc, nil
}

// CreatePacs002 creates a pacs.002 payment status report
func (p *SettlementProcessor) CreatePacs002(tx *models.Transaction, status string) (*pacs_v08.FIToFIPaymentStatusReportV08, error) {
	msgId := uuid.New().String()
	creDtTm := p.now()

	doc := &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlInstrId:    &[]common.Max35Text{common.Max35Text(tx.TransactionID)}[0],
				OrgnlEndToEndId: &[]common.Max35Text{common.Max35Text(tx.TransactionID)}[0],
				OrgnlTxId:       &[]common.Max35Text{common.Max35Text(tx.TransactionID)}[0],
				TxSts:           &[]pacs_v08.ExternalPaymentTransactionStatus1Code{pacs_v08.ExternalPaymentTransactionStatus1Code(status)}[0],
			},
		},
	}

	return doc, nil
}

// ConvertToXML converts ISO20022 document to XML string
func ConvertToXML(doc any) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}

// isActiveCurrencyCode checks the ISO 4217 shape: three upper-case letters
func isActiveCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

var (
	_ Processor = (*SettlementProcessor)(nil)
	_ Settler   = (*LogSettler)(nil)
)
